package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"somnia.ai/internal/persistence/indexdb"
	"somnia.ai/internal/platform/config"
	"somnia.ai/internal/sim/catalogs"
	"somnia.ai/internal/sim/engine"
	"somnia.ai/internal/sim/tuning"
	"somnia.ai/internal/transport/adapter"
)

// loadConfig reads tuning and catalogs. A missing tuning file means defaults;
// any other problem is fatal.
func loadConfig(cfg config.Server, logger *log.Logger) (tuning.Tuning, *catalogs.Catalogs, error) {
	tune, err := tuning.Load(cfg.Tuning)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Printf("tuning not found (%s); using defaults", cfg.Tuning)
		tune = tuning.Defaults()
	case err != nil:
		return tuning.Tuning{}, nil, fmt.Errorf("load tuning: %w", err)
	}

	cats := catalogs.Defaults()
	if cfg.Catalogs != "" {
		cats, err = catalogs.Load(cfg.Catalogs)
		if err != nil {
			return tuning.Tuning{}, nil, fmt.Errorf("load catalogs: %w", err)
		}
	}
	return tune, cats, nil
}

type reloadTargets struct {
	eng     interface{ Submit(engine.Input) bool }
	adapter *adapter.Server
	index   indexdb.Index
}

// watchReload re-reads configuration on SIGHUP. An invalid file is logged and
// the running configuration stays in place.
func watchReload(ctx context.Context, cfg config.Server, to reloadTargets, logger *log.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(cfg, to, logger); err != nil {
				logger.Printf("reload: %v", err)
			}
		}
	}
}

func reload(cfg config.Server, to reloadTargets, logger *log.Logger) error {
	tune, cats, err := loadConfig(cfg, logger)
	if err != nil {
		return err
	}
	if !to.eng.Submit(engine.ReloadTuning{Tuning: tune, Catalogs: cats}) {
		return fmt.Errorf("engine inbox full; try again")
	}
	if to.adapter != nil {
		to.adapter.SetCatalogs(cats)
	}
	if to.index != nil {
		if err := to.index.RecordConfig(tune, cats); err != nil {
			logger.Printf("index backend: record config: %v", err)
		}
	}
	logger.Printf("reload queued (effects=%s cues=%s)", short(cats.Effects.Digest), short(cats.Cues.Digest))
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
