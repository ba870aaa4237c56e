package config

import (
	"flag"
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port int `env:"SOMNIA_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("SOMNIA_TEST_PORT", "not-an-int")
	err := ParseEnv(&cfg)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestParseServer_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SOMNIA_ADDR", "0.0.0.0:9000")
	t.Setenv("SOMNIA_DATA_DIR", "/var/lib/somnia")
	t.Setenv("SOMNIA_INDEX_BACKEND", "none")

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseServer(fs, []string{"-addr", "127.0.0.1:9100"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9100" {
		t.Fatalf("addr: got %q want flag value", cfg.Addr)
	}
	if cfg.DataDir != "/var/lib/somnia" || cfg.IndexBackend != "none" {
		t.Fatalf("env values lost: %+v", cfg)
	}
	if !cfg.Journal || cfg.UpdateInterval != 6*time.Hour {
		t.Fatalf("defaults: journal=%v interval=%s", cfg.Journal, cfg.UpdateInterval)
	}
}

func TestServerValidate(t *testing.T) {
	base := Server{Addr: ":1", DataDir: "d", IndexBackend: "sqlite"}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := []Server{
		{DataDir: "d", IndexBackend: "sqlite"},
		{Addr: ":1", DataDir: "d", IndexBackend: "mongo"},
		{Addr: ":1", DataDir: "d", IndexBackend: "http"},
		{Addr: ":1", DataDir: "d", IndexBackend: "none", UpdateURL: "https://example.com/v", UpdateInterval: time.Second},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d accepted: %+v", i, c)
		}
	}
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected nil parser to be rejected")
	}
}
