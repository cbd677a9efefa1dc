package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validFile = `{"enhanced_scenarios": {"tavern": {"title": "The Tavern", "story_nodes": {
  "start": {"title": "Bar", "description": "Ale.", "choices": [{"text": "Leave", "next_node": null}]}
}}}}`

const danglingFile = `{"enhanced_scenarios": {"cave": {"title": "The Cave", "story_nodes": {
  "start": {"title": "Mouth", "description": "Dark.", "choices": [{"text": "Enter", "next_node": "depths"}]}
}}}}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunReportsUnresolvedTargets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tavern.json", validFile)
	writeFile(t, dir, "cave.json", danglingFile)
	writeFile(t, dir, "notes.txt", "ignored")

	var stdout, stderr bytes.Buffer
	if code := run([]string{dir}, &stdout, &stderr); code != exitInvalid {
		t.Fatalf("exit code = %d, stderr %q", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "ok   "+filepath.Join(dir, "tavern.json")) {
		t.Fatalf("missing ok line: %q", out)
	}
	if !strings.Contains(out, `unresolved next_node "depths"`) {
		t.Fatalf("missing problem line: %q", out)
	}
}

func TestRunQuietOnValidFiles(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tavern.json", validFile)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-q", path}, &stdout, &stderr); code != exitOK || stdout.Len() != 0 {
		t.Fatalf("exit %d, stdout %q", code, stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"missing path", []string{filepath.Join(t.TempDir(), "nope.json")}},
		{"unknown flag", []string{"-x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != exitUsage {
				t.Fatalf("exit code = %d", code)
			}
		})
	}
}

func TestShippedScenariosPass(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-q", filepath.Join("..", "..", "internal", "gamedata", "scenarios")}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit %d: %s%s", code, stdout.String(), stderr.String())
	}
}
