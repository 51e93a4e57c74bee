// Package notifier exposes the public facade over the delivery and link
// services.
package notifier

import (
	"context"
	"errors"

	"github.com/quorumbot/notify/internal/delivery"
	"github.com/quorumbot/notify/internal/links"
	"github.com/quorumbot/notify/pkg/config"
	"github.com/quorumbot/notify/pkg/connectors"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/quorumbot/notify/pkg/interfaces/store"
)

// Dependencies wire the manager from already-built services.
type Dependencies struct {
	Ledger        store.LedgerRepository
	Subscriptions store.SubscriptionRepository
	ChannelLinks  store.ChannelLinkRepository
	Registry      *connectors.Registry
	Logger        logger.Logger
	Config        config.Config
}

// Manager is the single entry point consumers hold. It owns no goroutines;
// every method is safe for concurrent use because the underlying services
// coordinate through the ledger.
type Manager struct {
	delivery *delivery.Service
	links    *links.Service
	ledger   store.LedgerRepository
	subs     store.SubscriptionRepository
	registry *connectors.Registry
	cfg      config.Config
}

// New builds the manager and its services.
func New(deps Dependencies) (*Manager, error) {
	if deps.Registry == nil {
		return nil, errors.New("notifier: connector registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}

	dlv, err := delivery.New(delivery.Dependencies{
		Ledger:        deps.Ledger,
		Subscriptions: deps.Subscriptions,
		Registry:      deps.Registry,
		Logger:        deps.Logger.With(logger.Field{Key: "component", Value: "delivery"}),
		Config:        deps.Config.Notifier,
	})
	if err != nil {
		return nil, err
	}

	var linkOpts []links.Option
	if deps.Config.Links.TokenTTL > 0 {
		linkOpts = append(linkOpts, links.WithTokenTTL(deps.Config.Links.TokenTTL))
	}
	lnk, err := links.New(links.Dependencies{
		Links:         deps.ChannelLinks,
		Subscriptions: deps.Subscriptions,
		Logger:        deps.Logger.With(logger.Field{Key: "component", Value: "links"}),
	}, linkOpts...)
	if err != nil {
		return nil, err
	}

	return &Manager{
		delivery: dlv,
		links:    lnk,
		ledger:   deps.Ledger,
		subs:     deps.Subscriptions,
		registry: deps.Registry,
		cfg:      deps.Config,
	}, nil
}

// Notify fans one logical event out to every enabled channel of each
// recipient, at most once per (recipient, event, channel). Safe to call
// repeatedly with the same event key.
func (m *Manager) Notify(ctx context.Context, eventKey, message string, recipientIDs []int64) (delivery.Summary, error) {
	return m.delivery.Notify(ctx, eventKey, message, recipientIDs)
}

// SendDirect dispatches one (recipient, channel) send, propagating connector
// errors to the caller.
func (m *Manager) SendDirect(ctx context.Context, recipientID int64, channelType, eventKey, message string) (delivery.Outcome, error) {
	return m.delivery.SendDirect(ctx, recipientID, channelType, eventKey, message)
}

// CreateLinkToken issues a single-use verification token for an external
// channel. The raw token is returned exactly once.
func (m *Manager) CreateLinkToken(ctx context.Context, recipientID int64, channelType string) (string, error) {
	return m.links.CreateToken(ctx, recipientID, channelType)
}

// ConsumeLinkToken verifies a token presented from an external channel and
// enables the channel's subscription for the owning recipient.
func (m *Manager) ConsumeLinkToken(ctx context.Context, channelType, token, destination string) (*domain.ChannelLink, error) {
	return m.links.ConsumeToken(ctx, channelType, token, destination)
}

// Unsubscribe disables every subscription bound to an external address.
func (m *Manager) Unsubscribe(ctx context.Context, channelType, address string) (int, error) {
	return m.links.UnsubscribeByAddress(ctx, channelType, address)
}

// Subscribe upserts an explicit subscription row, for call sites that manage
// channel state outside the token flow (notably DM opt-out).
func (m *Manager) Subscribe(ctx context.Context, sub *domain.Subscription) error {
	if sub == nil {
		return errors.New("notifier: subscription is required")
	}
	return m.subs.Upsert(ctx, sub)
}

// History returns the ledger audit trail for one logical event.
func (m *Manager) History(ctx context.Context, eventKey string, opts store.ListOptions) (store.ListResult[domain.LedgerEntry], error) {
	return m.ledger.ListByEventKey(ctx, eventKey, opts)
}

// Registry exposes the connector registry.
func (m *Manager) Registry() *connectors.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Config returns the effective configuration.
func (m *Manager) Config() config.Config {
	if m == nil {
		return config.Config{}
	}
	return m.cfg
}
