package notifier

import (
	"context"
	"errors"
	"fmt"

	bunrepo "github.com/quorumbot/notify/internal/storage/bun"
	"github.com/quorumbot/notify/pkg/config"
	"github.com/quorumbot/notify/pkg/connectors"
	"github.com/quorumbot/notify/pkg/connectors/botdm"
	"github.com/quorumbot/notify/pkg/connectors/httpapi"
	"github.com/quorumbot/notify/pkg/connectors/signalgw"
	"github.com/quorumbot/notify/pkg/credentials"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/uptrace/bun"
)

// Credential names resolved from the store when config omits a secret.
const (
	CredentialTelegramToken = "telegram.token"
	CredentialSignalAccount = "signal.account"
)

// ModuleOptions configure the assembled module.
type ModuleOptions struct {
	Config      config.Config
	DB          *bun.DB
	Logger      logger.Logger
	Session     botdm.Session
	Credentials credentials.Store
}

// Module owns the storage handles and the manager facade.
type Module struct {
	manager  *Manager
	registry *connectors.Registry
	db       *bun.DB
}

// NewModule assembles repositories and connectors from configuration.
// Connector secrets absent from config are pulled from the credential store
// before validation runs, so a secret held in either source satisfies an
// enabled connector; a secret missing from both fails validation.
func NewModule(ctx context.Context, opts ModuleOptions) (*Module, error) {
	if opts.DB == nil {
		return nil, errors.New("notifier: database handle is required")
	}
	cfg, err := resolveSecrets(ctx, opts.Config, opts.Credentials)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("notifier: config: %w", err)
	}
	lgr := opts.Logger
	if lgr == nil {
		lgr = &logger.Nop{}
	}

	if err := bunrepo.EnsureSchema(ctx, opts.DB); err != nil {
		return nil, err
	}

	registry := buildRegistry(cfg.Connectors, opts.Session, lgr)

	manager, err := New(Dependencies{
		Ledger:        bunrepo.NewLedgerRepository(opts.DB),
		Subscriptions: bunrepo.NewSubscriptionRepository(opts.DB),
		ChannelLinks:  bunrepo.NewChannelLinkRepository(opts.DB),
		Registry:      registry,
		Logger:        lgr,
		Config:        cfg,
	})
	if err != nil {
		return nil, err
	}

	return &Module{manager: manager, registry: registry, db: opts.DB}, nil
}

// resolveSecrets fills connector secrets missing from config from the
// credential store. An empty store lookup leaves the field blank for
// validation to reject.
func resolveSecrets(ctx context.Context, cfg config.Config, creds credentials.Store) (config.Config, error) {
	if cfg.Connectors.Telegram.Enabled && cfg.Connectors.Telegram.Token == "" {
		token, err := resolveCredential(ctx, creds, CredentialTelegramToken)
		if err != nil {
			return cfg, err
		}
		cfg.Connectors.Telegram.Token = token
	}
	if cfg.Connectors.Signal.Enabled && cfg.Connectors.Signal.Account == "" {
		account, err := resolveCredential(ctx, creds, CredentialSignalAccount)
		if err != nil {
			return cfg, err
		}
		cfg.Connectors.Signal.Account = account
	}
	return cfg, nil
}

func buildRegistry(cfg config.ConnectorsConfig, session botdm.Session, lgr logger.Logger) *connectors.Registry {
	registry := connectors.NewRegistry()

	if session != nil {
		registry.Register(botdm.New(botdm.Config{
			Enabled:        cfg.DM.Enabled,
			MinInterval:    cfg.DM.MinInterval,
			MaxRetries:     cfg.DM.MaxRetries,
			RequestTimeout: cfg.DM.RequestTimeout,
		}, session, lgr))
	}

	registry.Register(httpapi.New(httpapi.Config{
		Enabled:               cfg.Telegram.Enabled,
		Token:                 cfg.Telegram.Token,
		BaseURL:               cfg.Telegram.BaseURL,
		MinInterval:           cfg.Telegram.MinInterval,
		MaxRetries:            cfg.Telegram.MaxRetries,
		RequestTimeout:        cfg.Telegram.RequestTimeout,
		DisableWebPagePreview: cfg.Telegram.DisablePreview,
	}, lgr))

	registry.Register(signalgw.New(signalgw.Config{
		Enabled:        cfg.Signal.Enabled,
		Mode:           signalgw.Mode(cfg.Signal.Mode),
		CLIPath:        cfg.Signal.CLIPath,
		Account:        cfg.Signal.Account,
		DaemonURL:      cfg.Signal.DaemonURL,
		MinInterval:    cfg.Signal.MinInterval,
		MaxRetries:     cfg.Signal.MaxRetries,
		RequestTimeout: cfg.Signal.RequestTimeout,
	}, lgr))

	return registry
}

func resolveCredential(ctx context.Context, store credentials.Store, name string) (string, error) {
	if store == nil {
		return "", nil
	}
	value, err := store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("notifier: resolve credential %q: %w", name, err)
	}
	return string(value), nil
}

// Manager returns the facade.
func (m *Module) Manager() *Manager {
	if m == nil {
		return nil
	}
	return m.manager
}

// Registry exposes the connector registry.
func (m *Module) Registry() *connectors.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// DB exposes the underlying database handle for advanced call sites.
func (m *Module) DB() *bun.DB {
	if m == nil {
		return nil
	}
	return m.db
}
