// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the modelmux routing daemon.
// routerd exposes the routing engine over HTTP: full orchestration with a
// pluggable provider caller, dry-run selection, and operational introspection
// of the model table and circuit breakers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/modelmux/modelmux/internal/breaker"
	"github.com/modelmux/modelmux/internal/config"
	"github.com/modelmux/modelmux/internal/intent"
	"github.com/modelmux/modelmux/internal/latency"
	"github.com/modelmux/modelmux/internal/logging"
	"github.com/modelmux/modelmux/internal/orchestrator"
	"github.com/modelmux/modelmux/internal/provider"
	"github.com/modelmux/modelmux/internal/registry"
	"github.com/modelmux/modelmux/internal/session"
	"github.com/modelmux/modelmux/internal/sink"
	"github.com/modelmux/modelmux/internal/tokens"
	"github.com/modelmux/modelmux/internal/util"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

// engine bundles the long-lived components the HTTP layer serves.
type engine struct {
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	breakers     *breaker.CircuitBreaker
	latencies    *latency.Tracker
	sessions     *session.Tracker
	selector     *registry.Selector
	classifier   *intent.Classifier
	estimator    *tokens.Estimator
	bus          *sink.Bus
	store        *sink.Store
}

func main() {
	fmt.Printf("modelmux routerd Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.Parse()

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
			log.Debugf("No .env file loaded: %v", errLoad)
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", configPath, err)
	}

	stateDir, err := util.ExpandPath(cfg.StateDir)
	if err != nil {
		log.Fatalf("Failed to resolve state dir: %v", err)
	}
	if err := util.EnsureDir(stateDir); err != nil {
		log.Fatalf("Failed to create state dir: %v", err)
	}

	logging.SetDebug(cfg.Debug)
	if err := logging.ConfigureLogOutput(stateDir, cfg.LoggingToFile, cfg.LogsMaxTotalSizeMB); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	eng, cleanup, err := buildEngine(cfg, stateDir)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	defer cleanup()

	// Hot reload: model table, chains, and rules swap atomically; a file
	// that no longer parses keeps the previous snapshot.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		if err := eng.registry.Reload(next); err != nil {
			log.Warnf("Config reload rejected, keeping previous model table: %v", err)
			return
		}
		logging.SetDebug(next.Debug)
		log.Infof("Model table reloaded: %d models", len(next.Models))
	})
	if err == nil {
		err = watcher.Start(context.Background())
	}
	if err != nil {
		log.Warnf("Config hot reload disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	srv := newServer(cfg, eng)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		log.Infof("routerd listening on %s", addr)
		if err := srv.run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down routerd")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.shutdown(ctx); err != nil {
		log.Warnf("Server shutdown: %v", err)
	}
}

// buildEngine wires every engine component from configuration. The returned
// cleanup flushes breaker snapshots and closes the decision sink.
func buildEngine(cfg *config.Config, stateDir string) (*engine, func(), error) {
	reg, err := registry.NewRegistry(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build registry: %w", err)
	}

	breakerOpts := breaker.Options{
		FailureThreshold:     cfg.Breaker.FailureThreshold,
		SuccessThreshold:     cfg.Breaker.SuccessThreshold,
		OpenTimeout:          cfg.Breaker.OpenTimeoutDuration(),
		RollingWindow:        cfg.Breaker.RollingWindowDuration(),
		MaxFailureRate:       cfg.Breaker.MaxFailureRate,
		PermanentErrorWeight: cfg.Breaker.PermanentErrorWeight,
	}
	var breakers *breaker.CircuitBreaker
	if cfg.BreakerPersistEnabled() {
		snapStore := breaker.NewSnapshotStore(filepath.Join(stateDir, "breakers.json"), 0)
		breakers = breaker.NewWithStore(breakerOpts, snapStore)
	} else {
		breakers = breaker.New(breakerOpts)
	}

	latencies := latency.NewTracker(cfg.Latency.Alpha)
	sessions := session.NewTracker(cfg.Session.TTLDuration(), cfg.Session.HistorySize)
	classifier := intent.NewClassifier(cfg.Intent.ConfidenceThreshold)
	estimator := tokens.NewEstimator()
	selector := registry.NewSelector(reg, latencies, sessions, cfg.Latency.BaselineMs)

	bus := sink.NewBus()
	var store *sink.Store
	if cfg.History.Enabled {
		dbPath := cfg.History.Path
		if dbPath == "" {
			dbPath = filepath.Join(stateDir, "history.db")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err = sink.NewStore(ctx, dbPath, 0)
		cancel()
		if err != nil {
			breakers.Close()
			bus.Close()
			return nil, nil, fmt.Errorf("failed to open decision history: %w", err)
		}
		store.Attach(bus)
	}

	orch := orchestrator.New(
		classifier, selector, reg, breakers, latencies, sessions, estimator,
		newEchoCaller(), nil, bus,
		orchestrator.Options{
			MaxModelAttempts: cfg.Routing.MaxModelAttempts,
			RetryCap:         cfg.Routing.RetryCap,
			BackoffCap:       cfg.Routing.BackoffCapDuration(),
			AttemptTimeout:   cfg.Routing.AttemptTimeoutDuration(),
		},
	)

	eng := &engine{
		orchestrator: orch,
		registry:     reg,
		breakers:     breakers,
		latencies:    latencies,
		sessions:     sessions,
		selector:     selector,
		classifier:   classifier,
		estimator:    estimator,
		bus:          bus,
		store:        store,
	}
	cleanup := func() {
		breakers.Close()
		bus.Close()
		if store != nil {
			if err := store.Close(); err != nil {
				log.Warnf("Closing decision history: %v", err)
			}
		}
	}
	return eng, cleanup, nil
}

// newEchoCaller returns the built-in placeholder caller. routerd is the
// routing engine, not a provider client; deployments embed the engine and
// supply a real provider.Caller.
func newEchoCaller() provider.Caller {
	return provider.CallerFunc(func(ctx context.Context, modelID, prompt, systemInstruction string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		return fmt.Sprintf("[%s] %s", modelID, prompt), nil
	})
}
