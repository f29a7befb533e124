package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/metahubco/metahub-core/internal/engine"
	"github.com/metahubco/metahub-core/pkg/config"
	"github.com/metahubco/metahub-core/pkg/logger"
)

var (
	configPath     = flag.String("config", "metahub.yaml", "Path to the configuration file")
	reconcileEvery = flag.Duration("reconcile-interval", 15*time.Minute, "Interval between orphan schema sweeps (0 disables)")
	reconcileGrace = flag.Duration("reconcile-grace", time.Hour, "How long a schema must stay orphaned before it is dropped")
	serviceVersion = "1.0.0"
)

func main() {
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = config.New()
	}

	lg := logger.New("metahub-core", serviceVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.NewEngine(cfg, lg)
	if err := eng.Start(ctx); err != nil {
		lg.Fatalf("Failed to start engine: %v", err)
	}

	if *reconcileEvery > 0 {
		go runReconciler(ctx, eng, lg, *reconcileEvery, *reconcileGrace)
	}

	lg.Infof("metahub-core %s ready", serviceVersion)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Stop(shutdownCtx); err != nil {
		lg.Errorf("Failed to stop engine cleanly: %v", err)
	}
}

func runReconciler(ctx context.Context, eng *engine.Engine, lg *logger.Logger, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped, err := eng.ReconcileOrphanSchemas(ctx, grace)
			if err != nil {
				lg.Errorf("Orphan schema sweep failed: %v", err)
				continue
			}
			if len(dropped) > 0 {
				lg.Warnf("Orphan schema sweep dropped %d schemas", len(dropped))
			}
		}
	}
}
