package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "1.2.3"
	s := String()
	if !strings.HasPrefix(s, "oncosim 1.2.3 (") {
		t.Errorf("unexpected version string %q", s)
	}
	if !strings.Contains(s, GitSHA) || !strings.Contains(s, BuildTime) {
		t.Errorf("version string %q missing build metadata", s)
	}
}
