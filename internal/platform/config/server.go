package config

import (
	"flag"
	"fmt"
	"strings"
	"time"
)

// Server holds the settings of cmd/server.
type Server struct {
	Addr     string `env:"SOMNIA_ADDR" envDefault:"127.0.0.1:8090"`
	DataDir  string `env:"SOMNIA_DATA_DIR" envDefault:"./data"`
	Tuning   string `env:"SOMNIA_TUNING" envDefault:"./configs/tuning.yaml"`
	Catalogs string `env:"SOMNIA_CATALOGS"`
	// AdapterToken, when set, is required in HELLO auth.
	AdapterToken string `env:"SOMNIA_ADAPTER_TOKEN"`

	IndexBackend  string `env:"SOMNIA_INDEX_BACKEND" envDefault:"sqlite"`
	IndexEndpoint string `env:"SOMNIA_INDEX_ENDPOINT"`
	IndexToken    string `env:"SOMNIA_INDEX_TOKEN"`

	Journal      bool `env:"SOMNIA_JOURNAL" envDefault:"true"`
	ObserveLocal bool `env:"SOMNIA_OBSERVE_LOCAL_ONLY" envDefault:"true"`

	UpdateURL      string        `env:"SOMNIA_UPDATE_URL"`
	UpdateInterval time.Duration `env:"SOMNIA_UPDATE_INTERVAL" envDefault:"6h"`
}

// ParseServer reads the environment, then applies flags from args.
func ParseServer(fs *flag.FlagSet, args []string) (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if fs == nil {
		return cfg, fmt.Errorf("flag parser is required")
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory (journal, index, snapshots)")
	fs.StringVar(&cfg.Tuning, "tuning", cfg.Tuning, "tuning.yaml path")
	fs.StringVar(&cfg.Catalogs, "catalogs", cfg.Catalogs, "directory with effects.json and cues.json; builtin when empty")
	fs.StringVar(&cfg.AdapterToken, "adapter-token", cfg.AdapterToken, "token adapters must present in HELLO")
	fs.StringVar(&cfg.IndexBackend, "index-backend", cfg.IndexBackend, "index backend: sqlite|http|none")
	fs.StringVar(&cfg.IndexEndpoint, "index-endpoint", cfg.IndexEndpoint, "ingest URL for the http index backend")
	fs.BoolVar(&cfg.Journal, "journal", cfg.Journal, "write the compressed event journal")
	fs.BoolVar(&cfg.ObserveLocal, "observe-local-only", cfg.ObserveLocal, "serve /v1/observe and /debug/status to loopback clients only")
	fs.StringVar(&cfg.UpdateURL, "update-url", cfg.UpdateURL, "release manifest URL; disabled when empty")
	fs.DurationVar(&cfg.UpdateInterval, "update-interval", cfg.UpdateInterval, "update check interval")
	if err := ParseArgs(fs, args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Server) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir is required")
	}
	switch strings.ToLower(c.IndexBackend) {
	case "sqlite", "none", "off":
	case "http":
		if c.IndexEndpoint == "" {
			return fmt.Errorf("index backend http needs SOMNIA_INDEX_ENDPOINT")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.IndexBackend)
	}
	if c.UpdateURL != "" && c.UpdateInterval < time.Minute {
		return fmt.Errorf("update interval must be >= 1m, got %s", c.UpdateInterval)
	}
	return nil
}
