// Package app builds the engine's object graph from configuration. Both
// binaries use it so the API and the console play the same game.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/dungeon-ledger/internal/config"
	"github.com/jwebster45206/dungeon-ledger/internal/devnet"
	"github.com/jwebster45206/dungeon-ledger/internal/ledger/evm"
	"github.com/jwebster45206/dungeon-ledger/internal/metrics"
	"github.com/jwebster45206/dungeon-ledger/internal/services"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
	"github.com/jwebster45206/dungeon-ledger/pkg/propagate"
	"github.com/jwebster45206/dungeon-ledger/pkg/roster"
	"github.com/jwebster45206/dungeon-ledger/pkg/session"
)

const (
	// DevnetMinter is the authority address of the offline ledger.
	DevnetMinter = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	// DevnetPlayer owns characters when no OWNER_ADDRESS is configured.
	DevnetPlayer = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"

	metadataCacheTTL = 24 * time.Hour
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Narrator services.LLMService
	Ledger   ledger.Ledger
	Store    metadata.Store
	Roster   *roster.Roster
	Sessions *session.Manager
	Metrics  *metrics.Metrics
	Redis    *services.RedisService // nil without REDIS_URL

	// Owner is the address new characters are minted to and listed for.
	Owner string

	closers []func() error
}

// New connects every backend. Callers must Close the result.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	narrator, err := services.NewLLMService(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := narrator.InitModel(ctx, cfg.ModelName); err != nil {
		return nil, fmt.Errorf("init narrator model: %w", err)
	}
	a.Narrator = narrator

	var db *sql.DB
	if cfg.LedgerBackend == "devnet" || cfg.MetadataBackend == "devnet" {
		db, err = devnet.Open(cfg.DevnetDBPath)
		if err != nil {
			return nil, fmt.Errorf("open devnet database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
	}

	if err := a.buildLedger(cfg, db); err != nil {
		return nil, err
	}
	a.buildStore(cfg, db)

	var locker session.TurnLocker
	if cfg.RedisURL != "" {
		redisSvc, err := services.NewRedisService(cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, redisSvc.Close)
		if err := redisSvc.WaitForConnection(ctx); err != nil {
			return nil, err
		}
		a.Redis = redisSvc
		a.Store = services.NewCachedStore(a.Store, redisSvc, metadataCacheTTL, logger)
		locker = services.NewTurnLock(redisSvc.Client(), turnLockTTL(cfg), logger)
	}

	a.Roster = roster.New(a.Ledger, a.Store, logger)

	sequencer := propagate.NewSequencer(a.Ledger, a.Store, logger,
		propagate.WithTimeouts(propagate.Timeouts{Ledger: cfg.LedgerTimeout, Metadata: cfg.MetadataTimeout}),
		propagate.WithObserver(a.Metrics))

	opts := []session.Option{
		session.WithNarratorTimeout(cfg.NarratorTimeout),
		session.WithRecorder(a.Metrics),
	}
	if cfg.HistoryLimit > 0 {
		opts = append(opts, session.WithHistoryLimit(cfg.HistoryLimit))
	}
	if locker != nil {
		opts = append(opts, session.WithTurnLocker(locker))
	}
	a.Sessions = session.NewManager(narrator, sequencer, logger, opts...)

	logger.Info("Engine ready",
		"llm_provider", cfg.LLMProvider,
		"model", cfg.ModelName,
		"ledger_backend", cfg.LedgerBackend,
		"metadata_backend", cfg.MetadataBackend,
		"redis", a.Redis != nil,
		"owner", a.Owner)

	ok = true
	return a, nil
}

func (a *App) buildLedger(cfg *config.Config, db *sql.DB) error {
	switch cfg.LedgerBackend {
	case "evm":
		client, err := evm.Dial(cfg.EVMRPCURL)
		if err != nil {
			return fmt.Errorf("dial evm rpc: %w", err)
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })

		l, err := evm.New(client, evm.Config{
			Contract:  cfg.ContractAddress,
			ChainID:   cfg.EVMChainID,
			SignerKey: cfg.SignerKey,
			BaseURI:   cfg.IPFSGatewayURL,
		}, a.Logger)
		if err != nil {
			return err
		}
		a.Ledger = l
		a.Owner = l.Address()
	case "devnet":
		a.Ledger = devnet.NewLedger(db, DevnetMinter, DevnetMinter, a.Logger)
		a.Owner = DevnetPlayer
	default:
		return fmt.Errorf("unsupported ledger backend: %s", cfg.LedgerBackend)
	}

	if cfg.OwnerAddress != "" {
		a.Owner = cfg.OwnerAddress
	}
	return nil
}

func (a *App) buildStore(cfg *config.Config, db *sql.DB) {
	if cfg.MetadataBackend == "pinata" {
		a.Store = services.NewPinataStore(cfg.PinataJWT, cfg.PinataAPIURL, cfg.IPFSGatewayURL, a.Logger)
		return
	}
	a.Store = devnet.NewContentStore(db, a.Logger)
}

// turnLockTTL covers one narrator call plus the longest write sequence:
// experience, publish, release and pointer update.
func turnLockTTL(cfg *config.Config) time.Duration {
	return cfg.NarratorTimeout + 2*cfg.LedgerTimeout + 2*cfg.MetadataTimeout
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
