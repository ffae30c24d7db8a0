package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ledgerhound/ledgerhound/internal/config"
	"github.com/ledgerhound/ledgerhound/internal/logging"
	"github.com/ledgerhound/ledgerhound/internal/partnerapi"
	"github.com/ledgerhound/ledgerhound/internal/store"
	"github.com/ledgerhound/ledgerhound/internal/syncer"
	"github.com/ledgerhound/ledgerhound/internal/vault"
)

// app bundles the wired-up components every command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *store.DB
	vault  *vault.Vault
	client *partnerapi.Client
	syncer *syncer.Syncer
}

// openApp loads configuration and opens the store and vault. Callers must
// Close().
func openApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	db, err := store.Open(cfg.Database())
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(cfg.DataDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	client := partnerapi.New(cfg.APIBaseURL)
	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		vault:  v,
		client: client,
		syncer: syncer.New(db, client, v, logger),
	}, nil
}

func (a *app) Close() {
	_ = a.logger.Sync()
	_ = a.db.Close()
}
