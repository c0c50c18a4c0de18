package driver

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Sandbox describes a workspace root plus allow/deny glob lists and answers
// whether a workspace-relative path falls inside them. Driver.Invoke does
// not consult a Sandbox.
type Sandbox struct {
	workspaceRoot string
	allowedScopes []string
	deniedScopes  []string
}

// NewSandbox creates a Sandbox rooted at workspaceRoot with doublestar glob
// patterns (e.g. allow "src/**", deny "vendor/**"). Patterns carry no
// negation syntax; exclusions go in the deny list. A path is allowed if it
// matches no deny scope and either matches an allow scope or the allow
// list is empty.
func NewSandbox(workspaceRoot string, allow, deny []string) *Sandbox {
	absRoot, _ := filepath.Abs(workspaceRoot)
	return &Sandbox{workspaceRoot: absRoot, allowedScopes: allow, deniedScopes: deny}
}

// WorkspaceRoot returns the sandbox's root directory.
func (s *Sandbox) WorkspaceRoot() string { return s.workspaceRoot }

// IsPathAllowed reports whether rel (relative to the workspace root)
// matches no deny scope and either matches an allow scope or the allow
// list is empty.
func (s *Sandbox) IsPathAllowed(rel string) bool {
	rel = filepath.ToSlash(strings.TrimPrefix(rel, "./"))
	for _, pattern := range s.deniedScopes {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return false
		}
	}
	if len(s.allowedScopes) == 0 {
		return true
	}
	for _, pattern := range s.allowedScopes {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}
