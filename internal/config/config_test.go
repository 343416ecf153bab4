package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DISCORD_BOT_TOKEN", "DISCORD_APPLICATION_ID", "STORAGE_BACKEND", "DATABASE_PATH",
		"DATA_DIR", "HTTP_ADDR", "LOG_LEVEL", "CONFIG_FILE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	// keep a developer's .env out of the test
	t.Chdir(t.TempDir())
}

func TestLoad_defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StorageBackend != "sqlite" || cfg.StoragePath() != "./data/bot.db" || cfg.HTTPAddr != ":9090" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Tunables, DefaultTunables()) {
		t.Fatalf("tunables = %+v", cfg.Tunables)
	}
	if err := cfg.RequireDiscord(); err == nil {
		t.Fatal("expected missing token to be reported")
	}
}

func TestLoad_env(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "tok")
	t.Setenv("STORAGE_BACKEND", "FILES")
	t.Setenv("DATA_DIR", "/var/lib/tstats")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.RequireDiscord(); err != nil {
		t.Fatal(err)
	}
	if cfg.StorageBackend != "files" || cfg.StoragePath() != "/var/lib/tstats" {
		t.Fatalf("storage = %s %s", cfg.StorageBackend, cfg.StoragePath())
	}
	if cfg.HTTPAddr != "" {
		t.Fatalf("expected an empty HTTP_ADDR to disable the API, got %q", cfg.HTTPAddr)
	}
}

func TestLoad_rejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "postgres")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STORAGE_BACKEND") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestLoad_tunablesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "sourceRate: 15\ncacheRate: 5\nuseServerName: true\nadminTags: [\"[ADM]\"]\nplayerFanout: legacy\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SourceRateDuration() != 15*time.Second || cfg.CacheRateDuration() != 5*time.Minute {
		t.Fatalf("durations = %v %v", cfg.SourceRateDuration(), cfg.CacheRateDuration())
	}
	if !cfg.UseServerName || cfg.PlayerFanout != "legacy" || !reflect.DeepEqual(cfg.AdminTags, []string{"[ADM]"}) {
		t.Fatalf("tunables = %+v", cfg.Tunables)
	}
	// untouched keys keep their defaults
	if cfg.DiscordRate != 60 || cfg.QueryAttempts != 3 {
		t.Fatalf("defaults lost: %+v", cfg.Tunables)
	}
}

func TestLoad_acceptsJSONConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"discordRate": 120, "lineLength": 40}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DiscordRate != 120 || cfg.LineLength != 40 {
		t.Fatalf("tunables = %+v", cfg.Tunables)
	}
}

func TestTunables_Validate(t *testing.T) {
	cases := map[string]func(*Tunables){
		"zero source rate":  func(tu *Tunables) { tu.SourceRate = 0 },
		"negative delay":    func(tu *Tunables) { tu.DiscordDelay = -1 },
		"zero attempts":     func(tu *Tunables) { tu.QueryAttempts = 0 },
		"unknown fanout":    func(tu *Tunables) { tu.PlayerFanout = "all" },
		"zero line length":  func(tu *Tunables) { tu.LineLength = 0 },
		"zero topic rate":   func(tu *Tunables) { tu.TopicRate = 0 },
		"zero cache rate":   func(tu *Tunables) { tu.CacheRate = 0 },
		"zero query budget": func(tu *Tunables) { tu.QueryTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tu := DefaultTunables()
			mutate(&tu)
			if err := tu.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
	if err := DefaultTunables().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
