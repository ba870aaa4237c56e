package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"somnia.ai/internal/persistence/indexdb"
	persistlog "somnia.ai/internal/persistence/log"
	"somnia.ai/internal/persistence/snapshot"
	"somnia.ai/internal/platform/config"
	"somnia.ai/internal/platform/otel"
	"somnia.ai/internal/platform/updatecheck"
	"somnia.ai/internal/sim/engine"
	"somnia.ai/internal/transport/adapter"
	"somnia.ai/internal/transport/observer"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.ParseServer(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg config.Server, logger *log.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, "server.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another server holds %s", lock.Path())
	}
	defer lock.Unlock()

	shutdownTracing, err := otel.Setup(ctx, "somnia-server")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Printf("otel shutdown: %v", err)
		}
	}()

	tune, cats, err := loadConfig(cfg, logger)
	if err != nil {
		return err
	}

	hub := adapter.NewHub()
	e, err := engine.New(engine.Config{
		Tuning:    tune,
		Catalogs:  cats,
		Sink:      hub,
		Messenger: hub,
		Logger:    log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		return err
	}
	hub.SetClock(e.CurrentTick)

	snapPath := snapshot.Path(cfg.DataDir)
	if err := restoreSnapshot(e, snapPath); err != nil {
		return err
	}
	if e.CurrentTick() > 0 {
		logger.Printf("resumed from %s tick=%d", filepath.Base(snapPath), e.CurrentTick())
	}

	bc := observer.NewBroadcaster()
	e.Feed().Subscribe(bc)

	if cfg.Journal {
		j := persistlog.OpenJournal(cfg.DataDir)
		e.Feed().Subscribe(j)
		defer func() {
			if err := j.Close(); err != nil {
				logger.Printf("journal close: %v", err)
			}
			if n := j.Dropped(); n > 0 {
				logger.Printf("journal dropped %d events", n)
			}
		}()
	}

	idx, err := indexdb.Open(indexdb.BackendConfig{
		Backend:  cfg.IndexBackend,
		DataDir:  cfg.DataDir,
		Endpoint: cfg.IndexEndpoint,
		Token:    cfg.IndexToken,
		Logger:   log.New(os.Stdout, "[index] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		e.Feed().Subscribe(idx)
		if err := idx.RecordConfig(tune, cats); err != nil {
			logger.Printf("index backend: record config: %v", err)
		}
	}

	adapterLog := log.New(os.Stdout, "[adapter] ", log.LstdFlags|log.Lmicroseconds)
	adapterSrv := adapter.NewServer(e, hub, adapter.Options{
		Token:    cfg.AdapterToken,
		Catalogs: cats,
		Logger:   adapterLog,
	})
	obsSrv := observer.NewServer(e, bc, observer.Options{
		LoopbackOnly: cfg.ObserveLocal,
		Logger:       log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds),
	})

	go watchReload(ctx, cfg, reloadTargets{eng: e, adapter: adapterSrv, index: idx}, logger)

	if cfg.UpdateURL != "" {
		go updatecheck.New(updatecheck.Config{
			URL:      cfg.UpdateURL,
			Current:  version,
			Interval: cfg.UpdateInterval,
			Logger:   logger,
		}, e).Run(ctx)
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(e, hub, bc, idx, adapterSrv, obsSrv),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Printf("listening on %s (version %s)", cfg.Addr, version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ListenAndServe: %w", err)
	}

	<-ctx.Done()
	<-engineDone
	snap := e.ExportSnapshot()
	if err := snapshot.WriteSnapshot(snapPath, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
	} else {
		logger.Printf("snapshot written tick=%d", snap.Header.Tick)
	}
	return nil
}

func restoreSnapshot(e *engine.Engine, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := e.ImportSnapshot(snap); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	return nil
}
