package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	const want = "Version: 1.2.3-rc1\nBuild: abcdef"
	if got := v.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildInfo(t *testing.T) {
	if s := BuildInfo(); !strings.HasPrefix(s, "go") && !strings.HasPrefix(s, "devel") {
		t.Fatalf("unexpected build info %q", s)
	}
}
