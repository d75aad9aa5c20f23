package main

import (
	"fmt"
	"log"

	"scoresync/internal/config"
	"scoresync/internal/connectivity"
	"scoresync/internal/oplog"
	"scoresync/internal/remote"
	"scoresync/internal/remote/httpapi"
	"scoresync/internal/store"
	"scoresync/internal/syncer"
)

// app is the assembled sync core, shared by the daemon and one-shot commands.
type app struct {
	cfg     *config.Config
	store   *store.Store
	oplog   *oplog.Log
	monitor *connectivity.Monitor
	coord   *syncer.Coordinator
	logger  *log.Logger
}

// buildApp loads configuration and wires the sync core together. The
// connectivity monitor and coordinator loops are not started yet; callers own
// the lifecycle.
func buildApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}

	logger := cfg.NewLogger("[scoresync] ")

	st, err := store.Open(cfg.CacheDir, cfg.NewLogger("[store] "))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	opLog, err := oplog.Open(cfg.OplogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open operation log: %w", err)
	}

	var remoteStore remote.Store
	if cfg.RemoteURL != "" {
		client, err := httpapi.New(httpapi.Config{
			BaseURL: cfg.RemoteURL,
			Logger:  cfg.NewLogger("[remote] "),
		})
		if err != nil {
			_ = opLog.Close()
			return nil, err
		}
		remoteStore = client
	} else {
		// No remote configured: run against an empty in-memory store. The
		// probe below never succeeds, so everything stays queued locally.
		remoteStore = remote.NewMemStore()
	}

	monitor := connectivity.NewMonitor(
		&connectivity.HTTPProbe{URL: cfg.HealthURL},
		&connectivity.Config{
			Interval: cfg.ProbeInterval,
			Logger:   cfg.NewLogger("[connectivity] "),
		},
	)

	coord, err := syncer.New(syncer.Config{
		Store:  st,
		Log:    opLog,
		Remote: remoteStore,
		Net:    monitor,
		Logger: cfg.NewLogger("[syncer] "),
	})
	if err != nil {
		_ = opLog.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   st,
		oplog:   opLog,
		monitor: monitor,
		coord:   coord,
		logger:  logger,
	}, nil
}

// close tears the core down in reverse dependency order.
func (a *app) close() {
	a.coord.Close()
	a.monitor.Stop()
	if err := a.oplog.Close(); err != nil {
		a.logger.Printf("Warning: failed to close operation log: %v", err)
	}
}
