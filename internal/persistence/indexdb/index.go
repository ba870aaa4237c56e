// Package indexdb keeps a queryable read-model of group and lunar history,
// fed from the engine event feed. The journal stays the source of truth.
package indexdb

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"somnia.ai/internal/sim/catalogs"
	"somnia.ai/internal/sim/events"
	"somnia.ai/internal/sim/tuning"
)

// Index is a feed subscriber with a background writer.
type Index interface {
	events.Subscriber
	RecordConfig(t tuning.Tuning, cats *catalogs.Catalogs) error
	Stats() Stats
	Close() error
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Dropped       uint64 `json:"dropped"`
	Written       uint64 `json:"written"`
	FlushFail     uint64 `json:"flush_fail"`
}

type GroupRecord struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Variant       string    `json:"variant,omitempty"`
	Members       []string  `json:"members"`
	FormedTick    uint64    `json:"formed_tick"`
	FormedAt      time.Time `json:"formed_at"`
	DissolvedTick *uint64   `json:"dissolved_tick,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

type LunarRecord struct {
	Env        string    `json:"env_id"`
	Tick       uint64    `json:"tick"`
	Day        int64     `json:"day"`
	Phase      int       `json:"phase"`
	Name       string    `json:"name"`
	Multiplier float64   `json:"multiplier"`
	At         time.Time `json:"at"`
}

type BackendConfig struct {
	// Backend is sqlite (default), http or none.
	Backend string
	DataDir string
	// Endpoint and Token configure the http backend.
	Endpoint string
	Token    string
	Logger   *log.Logger
}

// SQLitePath is the index location under a data directory.
func SQLitePath(dataDir string) string { return filepath.Join(dataDir, "index", "somnia.sqlite") }

// Open returns the configured backend, or nil for none.
func Open(cfg BackendConfig) (Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "sqlite":
		idx, err := OpenSQLite(SQLitePath(cfg.DataDir))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "http":
		idx, err := OpenRemote(RemoteConfig{Endpoint: cfg.Endpoint, Token: cfg.Token, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "none", "off":
		return nil, nil
	}
	return nil, fmt.Errorf("indexdb: unknown backend %q (want sqlite, http or none)", cfg.Backend)
}
