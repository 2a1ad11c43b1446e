package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
	return out.String()
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")

	out := execute(t, "config", "--config", path, "--persona", "basic", "--nick", "tester", "--room", "ws://chat.local/room")
	for _, want := range []string{"persona: basic", "nick: tester", "play_grace: 3s", "ws://chat.local/room"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestPersonasCommand(t *testing.T) {
	out := execute(t, "personas")
	if !strings.Contains(out, "basic") || !strings.Contains(out, "dj") || !strings.Contains(out, "NeonDJBot") {
		t.Fatalf("unexpected personas output:\n%s", out)
	}
}
