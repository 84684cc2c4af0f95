package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRefusesToStartWithoutHub(t *testing.T) {
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := "[paths]\n" +
		"state_dir = \"" + filepath.ToSlash(filepath.Join(base, "state")) + "\"\n" +
		"log_dir = \"" + filepath.ToSlash(filepath.Join(base, "logs")) + "\"\n" +
		"socket_dir = \"" + filepath.ToSlash(filepath.Join(base, "run")) + "\"\n" +
		"lock_dir = \"" + filepath.ToSlash(filepath.Join(base, "locks")) + "\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TETHER_SERVER_URI", "")

	cmd := newCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "hub.server_uri") {
		t.Fatalf("expected missing hub error, got %v", err)
	}
}
