package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), configFile)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
backend: gdbremote
max-sessions: 4
stop-timeout: 500ms
gdbremote:
  address: 127.0.0.1:1234
  packet-timeout: 2s
aliases:
  wait: ["w"]
`)
	c, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.BackendName() != BackendGdbRemote {
		t.Errorf("backend: got %q", c.BackendName())
	}
	if c.MaxSessions != 4 {
		t.Errorf("max-sessions: got %d", c.MaxSessions)
	}
	if c.StopTimeout != 500*time.Millisecond {
		t.Errorf("stop-timeout: got %v", c.StopTimeout)
	}
	if c.GdbRemote.Address != "127.0.0.1:1234" || c.GdbRemote.PacketTimeout != 2*time.Second {
		t.Errorf("gdbremote: got %#v", c.GdbRemote)
	}
	if len(c.Aliases["wait"]) != 1 || c.Aliases["wait"][0] != "w" {
		t.Errorf("aliases: got %v", c.Aliases)
	}
}

func TestDefaultConfigIsEmpty(t *testing.T) {
	c, err := LoadConfigFile(writeConfig(t, defaultConfig))
	if err != nil {
		t.Fatal(err)
	}
	if c.BackendName() != BackendDefault || c.MaxSessions != 0 || c.StopTimeout != 0 || c.GdbRemote != (GdbRemoteConfig{}) {
		t.Fatalf("default config sets options: %#v", c)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"native", Config{Backend: BackendNative}, true},
		{"unknown backend", Config{Backend: "ptrace"}, false},
		{"negative sessions", Config{MaxSessions: -1}, false},
		{"negative stop timeout", Config{StopTimeout: -time.Second}, false},
		{"negative cache", Config{HandleCacheSize: -1}, false},
		{"negative packet timeout", Config{GdbRemote: GdbRemoteConfig{PacketTimeout: -1}}, false},
		{"empty alias", Config{Aliases: map[string][]string{"wait": {""}}}, false},
	} {
		err := tc.cfg.Validate()
		if (err == nil) != tc.ok {
			t.Errorf("%s: unexpected result %v", tc.name, err)
		}
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("missing file loaded")
	}
	if _, err := LoadConfigFile(writeConfig(t, "max-sessions: [")); err == nil {
		t.Error("malformed file loaded")
	}
	if _, err := LoadConfigFile(writeConfig(t, "backend: ptrace\n")); err == nil {
		t.Error("invalid file loaded")
	}
}
