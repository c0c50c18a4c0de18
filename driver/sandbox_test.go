package driver

import "testing"

func TestSandboxAllowsMatchingScope(t *testing.T) {
	sb := NewSandbox("/work", []string{"src/**"}, nil)
	if !sb.IsPathAllowed("src/handler.go") {
		t.Error("expected src/handler.go to be allowed")
	}
}

func TestSandboxDeniesUnlistedScope(t *testing.T) {
	sb := NewSandbox("/work", []string{"src/**"}, nil)
	if sb.IsPathAllowed("vendor/lib.go") {
		t.Error("expected vendor/lib.go to be denied")
	}
}

func TestSandboxDenyOverridesAllow(t *testing.T) {
	sb := NewSandbox("/work", []string{"**"}, []string{"secrets/**"})
	if sb.IsPathAllowed("secrets/key.pem") {
		t.Error("expected secrets/key.pem to be denied despite wildcard allow")
	}
	if !sb.IsPathAllowed("src/main.go") {
		t.Error("expected src/main.go to remain allowed")
	}
}

func TestSandboxEmptyAllowListPermitsAll(t *testing.T) {
	sb := NewSandbox("/work", nil, []string{"secrets/**"})
	if !sb.IsPathAllowed("anything/goes.go") {
		t.Error("expected no-allow-list to default-allow")
	}
	if sb.IsPathAllowed("secrets/key.pem") {
		t.Error("expected deny list to still apply")
	}
}
