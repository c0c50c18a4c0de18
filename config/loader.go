package config

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const (
	// ProjectConfigFile is the project-level config file name.
	ProjectConfigFile = "agentgraph.yaml"
	// UserConfigDir is the directory for user-level config, under $HOME.
	UserConfigDir = ".config/agentgraph"
	// UserConfigFile is the user-level config file name.
	UserConfigFile = "config.yaml"
)

// Loader loads configuration with layered precedence and can watch the
// project config file for hot-reload.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load applies, in increasing precedence: built-in defaults, the user
// config (~/.config/agentgraph/config.yaml), and the project config
// (agentgraph.yaml, found by walking up from the working directory).
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	userPath := l.userConfigPath()
	if userCfg, err := LoadFromFile(userPath); err == nil {
		l.logger.Debug("loaded user config", slog.String("path", userPath))
		cfg.Merge(userCfg)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("failed to load user config", slog.String("path", userPath), slog.String("error", err.Error()))
	}

	if projectPath := l.findProjectConfig(); projectPath != "" {
		if projectCfg, err := LoadFromFile(projectPath); err == nil {
			l.logger.Debug("loaded project config", slog.String("path", projectPath))
			cfg.Merge(projectCfg)
		} else {
			l.logger.Warn("failed to load project config", slog.String("path", projectPath), slog.String("error", err.Error()))
		}
	}

	if cfg.Storage.Root == "" {
		if root := l.detectGitRoot(); root != "" {
			cfg.Storage.Root = filepath.Join(root, ".agentgraph")
		} else if cwd, err := os.Getwd(); err == nil {
			cfg.Storage.Root = filepath.Join(cwd, ".agentgraph")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureUserConfig writes the default user config if it does not exist.
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return DefaultConfig().SaveToFile(path)
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := cwd
	for {
		candidate := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (l *Loader) detectGitRoot() string {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// WatchProjectConfig watches the resolved project config file (if any) and
// invokes onChange with a freshly reloaded Config whenever it is written.
// Config carries no worker roster; worker.WatchFile reloads rosters.
// The caller owns the returned watcher's lifetime and must Close it.
func (l *Loader) WatchProjectConfig(onChange func(*Config)) (*fsnotify.Watcher, error) {
	path := l.findProjectConfig()
	if path == "" {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := l.Load()
				if err != nil {
					l.logger.Warn("config reload failed", slog.String("error", err.Error()))
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return watcher, nil
}
