package worker

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// rosterFile is the on-disk shape of a worker roster file.
type rosterFile struct {
	Workers []*Worker `yaml:"workers"`
}

// LoadFile reads a worker roster from a YAML file.
func LoadFile(path string) ([]*Worker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading worker roster %s: %w", path, err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing worker roster %s: %w", path, err)
	}
	for _, w := range rf.Workers {
		if w.ID == "" {
			return nil, fmt.Errorf("worker roster %s: entry missing id", path)
		}
		if w.MaxConcurrentTasks < 1 {
			w.MaxConcurrentTasks = 1
		}
	}
	return rf.Workers, nil
}

// Sync registers every worker in roster into r, preserving each existing
// worker's CurrentLoad and PerformanceStats across a reload — a roster
// file only redefines capability/capacity, it never resets in-flight
// state or historical outcomes.
func Sync(r *Registry, roster []*Worker) {
	for _, w := range roster {
		next := *w
		if existing, ok := r.Get(w.ID); ok {
			next.CurrentLoad = existing.CurrentLoad
			next.PerformanceStats = existing.PerformanceStats
		}
		r.Register(&next)
	}
}

// WatchFile loads path into r immediately, then watches it for writes and
// re-syncs on every change, so new specialists can be added or capacities
// adjusted without a process restart. The returned watcher must be closed
// by the caller when done.
func WatchFile(path string, r *Registry, logger *slog.Logger) (*fsnotify.Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	roster, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	Sync(r, roster)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating worker roster watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching worker roster %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				roster, err := LoadFile(path)
				if err != nil {
					logger.Warn("worker roster reload failed", "path", path, "error", err)
					continue
				}
				Sync(r, roster)
				logger.Info("worker roster reloaded", "path", path, "count", len(roster))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("worker roster watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}
