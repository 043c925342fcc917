// Package app wires configuration into the store, driver and clients shared
// by the binaries.
package app

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"mint-confirm-service/internal/config"
	"mint-confirm-service/internal/confirmclient"
	"mint-confirm-service/internal/kv"
	"mint-confirm-service/internal/logging"
	"mint-confirm-service/internal/pending"
	"mint-confirm-service/internal/recovery"
)

type Deps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Backend *kv.SQLite
	Store   *pending.Store
	Client  *confirmclient.Client
	Driver  *recovery.Driver
}

// Open builds the dependencies described by cfg. Close releases them.
func Open(cfg *config.Config, logger *zap.Logger) (*Deps, error) {
	backend, err := kv.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open pending store: %w", err)
	}

	store := pending.New(backend,
		pending.WithKey(cfg.Store.Key),
		pending.WithLogger(logger.Named("pending")))

	cc := confirmclient.New(cfg.API.BaseURL,
		confirmclient.WithTimeout(cfg.APITimeout()),
		confirmclient.WithAuthToken(cfg.API.AuthToken))

	driver := recovery.NewDriver(store, cc,
		recovery.WithLogger(logger.Named("recovery")),
		recovery.WithMaxAttempts(cfg.Recovery.MaxAttempts),
		recovery.WithBackoffBase(cfg.BackoffBase()))

	return &Deps{
		Config:  cfg,
		Logger:  logger,
		Backend: backend,
		Store:   store,
		Client:  cc,
		Driver:  driver,
	}, nil
}

func (d *Deps) Close() error {
	_ = d.Logger.Sync()
	return d.Backend.Close()
}

// DialTemporal connects to the Temporal frontend named in the config.
func (d *Deps) DialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  d.Config.Temporal.HostPort,
		Namespace: d.Config.Temporal.Namespace,
		Logger:    logging.NewTemporalLogger(d.Logger.Named("temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// Bootstrap loads the config at path, builds the logger and opens the deps.
func Bootstrap(path string) (*Deps, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return Open(cfg, logger)
}
