package app

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corphon/AIDungeonMaster/internal/config"
	"github.com/Corphon/AIDungeonMaster/internal/di"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/storage/sqlite"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

func quietLogger() *utils.Logger {
	return utils.NewLogger(&bytes.Buffer{}, utils.ERROR)
}

func loadConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	t.Setenv("DATA_DIR", t.TempDir())
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestServeAutosavesOnShutdown(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SHUTDOWN_TIMEOUT": "2s"})
	a, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hero, err := a.Game.CreateCharacter("Arin", models.ClassWarrior)
	if err != nil {
		t.Fatalf("create character: %v", err)
	}
	start, err := a.Game.StartSession(context.Background(), "forest_of_shadows", []string{hero.ID})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/sessions/" + start.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	// a fresh process over the same data dir sees the shutdown autosave
	b, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	saves, err := b.Game.ListSaves(context.Background(), models.SaveFilter{Kind: models.SaveKindAuto, SessionID: start.SessionID})
	if err != nil || len(saves) == 0 {
		t.Fatalf("autosaves = %v, %v", saves, err)
	}
}

func TestNewWithSQLiteBackend(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"STORAGE_BACKEND": "sqlite"})
	a, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, err := di.Resolve[*sqlite.Store](a.Container, di.ServiceStore); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		t.Fatalf("database file: %v", err)
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Fatalf("config file: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(&config.Config{}, quietLogger()); err == nil {
		t.Fatal("expected a validation error")
	}
}

const overrideScenario = `{
  "enhanced_scenarios": {
    "forest_of_shadows": {
      "title": "A Smaller Forest",
      "story_nodes": {
        "start": {"title": "Clearing", "description": "Nothing here.", "choices": [{"text": "Go home", "next_node": null}]}
      }
    },
    "tavern": {
      "title": "The Tavern",
      "story_nodes": {
        "start": {"title": "Bar", "description": "Ale.", "choices": [{"text": "Leave", "next_node": null}]}
      }
    }
  }
}`

func TestLoadScenariosOverridesShipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "local.json"), []byte(overrideScenario), 0644); err != nil {
		t.Fatal(err)
	}

	scenarios, err := LoadScenarios(dir, quietLogger())
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	if got := scenarios["forest_of_shadows"].Title; got != "A Smaller Forest" {
		t.Fatalf("forest title = %q", got)
	}
	if scenarios["tavern"] == nil || scenarios["royal_intrigue"] == nil {
		t.Fatalf("scenarios = %v", len(scenarios))
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"nodes": {}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScenarios(dir, quietLogger()); err == nil {
		t.Fatal("expected a parse error for broken.json")
	}
}

func TestConfigureLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLogger(&buf, utils.DEBUG)
	cfg := &config.Config{LogLevel: "error", LogFormat: "json"}
	if err := ConfigureLogger(cfg, logger); err != nil {
		t.Fatalf("ConfigureLogger: %v", err)
	}
	logger.Info("hidden", nil)
	logger.Error("shown", nil)
	if out := buf.String(); bytes.Contains([]byte(out), []byte("hidden")) || !bytes.Contains([]byte(out), []byte(`"message":"shown"`)) {
		t.Fatalf("output %q", out)
	}
}
