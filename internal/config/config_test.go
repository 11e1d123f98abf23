package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/config"
)

func TestLoadWritesTemplateOnFirstRun(t *testing.T) {
	base := t.TempDir()

	cfg, err := config.Load(base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.Driver != config.DriverSQLite {
		t.Errorf("driver = %q, want %q", cfg.Remote.Driver, config.DriverSQLite)
	}
	if _, err := os.Stat(config.Path(base)); err != nil {
		t.Fatalf("template not written: %v", err)
	}

	// The template itself must parse to the same defaults.
	again, err := config.Load(base)
	if err != nil {
		t.Fatalf("Load template: %v", err)
	}
	if again.Server.Addr != config.DefaultAddr || again.Export.Context != config.DefaultContext {
		t.Errorf("template defaults = %+v", again)
	}
	if again.Level() != slog.LevelWarn {
		t.Errorf("level = %v", again.Level())
	}
}

func TestParseCommentsAndDefaults(t *testing.T) {
	data := []byte(`{
  // agent block
  "agent": {"id": "u1", "name": "Léa", "area": "hauts-de-france",},
  /* routing */
  "areas": {"Hauts-de-France": {"mission": "M-NORD", "region": "Lille"}},
  "remote": {"driver": "http", "url": "http://localhost:8765"},
  "server": {"token_ttl": "15m"},
  "log_level": "debug",
}`)
	cfg, err := config.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Agent.ID != "u1" || cfg.Remote.Driver != config.DriverHTTP {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Remote.Path != config.DefaultDBFile {
		t.Errorf("remote.path default = %q", cfg.Remote.Path)
	}
	area, ok := cfg.Area(cfg.Agent.Area)
	if !ok || area.Mission != "M-NORD" {
		t.Errorf("Area(%q) = %+v, %v", cfg.Agent.Area, area, ok)
	}
	if _, ok := cfg.Area("nowhere"); ok {
		t.Error("unknown area resolved")
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("level = %v", cfg.Level())
	}
	ttl, err := cfg.Server.TTL()
	if err != nil || ttl != 15*time.Minute {
		t.Errorf("TTL = %v, %v", ttl, err)
	}
}

func TestLoadReportsInvalidJSON(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(config.Path(base), []byte(`{"agent": `), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(base)
	if err == nil {
		t.Fatal("expected error")
	}
	if cfg.Remote.Driver != config.DriverSQLite {
		t.Errorf("defaults not returned on error: %+v", cfg)
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct{ base, p, want string }{
		{"/data", "remote.db", filepath.Join("/data", "remote.db")},
		{"/data", "/srv/remote.db", "/srv/remote.db"},
		{"/data", "", ""},
	}
	for _, tt := range tests {
		if got := config.ResolvePath(tt.base, tt.p); got != tt.want {
			t.Errorf("ResolvePath(%q, %q) = %q, want %q", tt.base, tt.p, got, tt.want)
		}
	}
}

func TestInvalidTTL(t *testing.T) {
	if _, err := (config.ServerConfig{TokenTTL: "soon"}).TTL(); err == nil {
		t.Error("expected error")
	}
}
