// Package delivery implements the ledger-guarded send path and the
// multi-channel fan-out. The persisted ledger, not an in-process mutex, is
// the cross-restart correctness boundary: every outcome is recorded through
// a single atomic upsert.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/quorumbot/notify/pkg/config"
	"github.com/quorumbot/notify/pkg/connectors"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/quorumbot/notify/pkg/interfaces/store"
)

// Outcome classifies one ledger-guarded send.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// maxErrorLen bounds the last_error column.
const maxErrorLen = 500

// SendFunc performs the actual transport call and returns a delivery id.
type SendFunc func(ctx context.Context) (string, error)

// Summary aggregates a fan-out batch.
type Summary struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeSent:
		s.Sent++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

// Dependencies groups the repositories/services required by the service.
type Dependencies struct {
	Ledger        store.LedgerRepository
	Subscriptions store.SubscriptionRepository
	Registry      *connectors.Registry
	Logger        logger.Logger
	Config        config.NotifierConfig
}

// Service resolves subscriptions and routes sends through the ledger.
type Service struct {
	ledger   store.LedgerRepository
	subs     store.SubscriptionRepository
	registry *connectors.Registry
	logger   logger.Logger
	cfg      config.NotifierConfig
}

var (
	ErrMissingLedger        = errors.New("delivery: ledger repository is required")
	ErrMissingSubscriptions = errors.New("delivery: subscription repository is required")
	ErrMissingRegistry      = errors.New("delivery: connector registry is required")
)

// New builds the delivery service.
func New(deps Dependencies) (*Service, error) {
	if deps.Ledger == nil {
		return nil, ErrMissingLedger
	}
	if deps.Subscriptions == nil {
		return nil, ErrMissingSubscriptions
	}
	if deps.Registry == nil {
		return nil, ErrMissingRegistry
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	if deps.Config.MaxAttempts <= 0 {
		deps.Config.MaxAttempts = 3
	}
	return &Service{
		ledger:   deps.Ledger,
		subs:     deps.Subscriptions,
		registry: deps.Registry,
		logger:   deps.Logger,
		cfg:      deps.Config,
	}, nil
}

// SendWithLedger dispatches one logical send through the idempotency ledger.
// An entry that already succeeded, or whose retry budget is spent, is skipped
// without invoking fn. At most one transport call happens per invocation.
func (s *Service) SendWithLedger(ctx context.Context, recipientID int64, eventKey, channelType string, payload domain.JSONMap, fn SendFunc) (Outcome, error) {
	if eventKey == "" {
		return OutcomeFailed, errors.New("delivery: event key is required")
	}

	entry, err := s.ledger.Get(ctx, recipientID, eventKey, channelType)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return OutcomeFailed, fmt.Errorf("delivery: ledger lookup: %w", err)
	}
	if entry != nil {
		if entry.Delivered() {
			return OutcomeSkipped, nil
		}
		if entry.RetryCount >= s.cfg.MaxAttempts {
			return OutcomeSkipped, nil
		}
	}

	deliveryID, sendErr := fn(ctx)
	if sendErr != nil {
		if markErr := s.ledger.MarkFailed(ctx, recipientID, eventKey, channelType, truncateError(sendErr)); markErr != nil {
			s.logger.Error("ledger failure record lost",
				logger.Field{Key: "recipient", Value: recipientID},
				logger.Field{Key: "event_key", Value: eventKey},
				logger.Field{Key: "channel", Value: channelType},
				logger.Field{Key: "error", Value: markErr},
			)
		}
		return OutcomeFailed, sendErr
	}

	if deliveryID == "" {
		deliveryID = "ok"
	}
	if markErr := s.ledger.MarkSent(ctx, recipientID, eventKey, channelType, deliveryID, payload); markErr != nil {
		// The message went out; losing the record risks a duplicate on the
		// next tick, so this is the loudest non-fatal path we have.
		s.logger.Error("ledger success record lost",
			logger.Field{Key: "recipient", Value: recipientID},
			logger.Field{Key: "event_key", Value: eventKey},
			logger.Field{Key: "channel", Value: channelType},
			logger.Field{Key: "error", Value: markErr},
		)
	}
	return OutcomeSent, nil
}

// route is one resolved (channel, target) pair for a recipient.
type route struct {
	channelType string
	target      string
	connector   connectors.Connector
}

// Notify fans out one logical event to every enabled channel of each
// recipient. A single recipient's failure never aborts the batch; connector
// errors are absorbed into the summary here and only here.
func (s *Service) Notify(ctx context.Context, eventKey, message string, recipientIDs []int64) (Summary, error) {
	var sum Summary
	if eventKey == "" {
		return sum, errors.New("delivery: event key is required")
	}
	if message == "" {
		return sum, errors.New("delivery: message is required")
	}

	payload := domain.PayloadForEvent(eventKey, message).AsMap()

	for _, recipientID := range dedupeSorted(recipientIDs) {
		routes, err := s.resolveRoutes(ctx, recipientID)
		if err != nil {
			s.logger.Error("subscription resolution failed",
				logger.Field{Key: "recipient", Value: recipientID},
				logger.Field{Key: "error", Value: err},
			)
			sum.add(OutcomeFailed)
			continue
		}
		for _, r := range routes {
			outcome, err := s.SendWithLedger(ctx, recipientID, eventKey, r.channelType, payload, func(ctx context.Context) (string, error) {
				return r.connector.Send(ctx, r.target, message)
			})
			if err != nil {
				s.logger.Warn("delivery failed",
					logger.Field{Key: "recipient", Value: recipientID},
					logger.Field{Key: "event_key", Value: eventKey},
					logger.Field{Key: "channel", Value: r.channelType},
					logger.Field{Key: "error", Value: err},
				)
			}
			sum.add(outcome)
		}
	}

	if s.cfg.AnnounceEnabled && s.cfg.AnnounceChannelID != 0 {
		outcome := s.announce(ctx, eventKey, message, payload)
		sum.add(outcome)
	}

	return sum, nil
}

// announce delivers the channel broadcast under its negative pseudo-id so it
// shares the idempotency guarantee with per-recipient DMs.
func (s *Service) announce(ctx context.Context, eventKey, message string, payload domain.JSONMap) Outcome {
	conn, ok := s.registry.Get(domain.ChannelDM)
	if !ok || !conn.Enabled() {
		return OutcomeSkipped
	}
	bc, ok := conn.(connectors.Broadcaster)
	if !ok {
		return OutcomeSkipped
	}
	pseudoID := domain.BroadcastKey(s.cfg.AnnounceChannelID)
	outcome, err := s.SendWithLedger(ctx, pseudoID, eventKey, domain.ChannelDM, payload, func(ctx context.Context) (string, error) {
		return bc.Broadcast(ctx, s.cfg.AnnounceChannelID, message)
	})
	if err != nil {
		s.logger.Warn("announce failed",
			logger.Field{Key: "channel_id", Value: s.cfg.AnnounceChannelID},
			logger.Field{Key: "event_key", Value: eventKey},
			logger.Field{Key: "error", Value: err},
		)
	}
	return outcome
}

// SendDirect dispatches a single (recipient, channel) send for administrative
// call sites. Unlike Notify, connector errors propagate to the caller.
func (s *Service) SendDirect(ctx context.Context, recipientID int64, channelType, eventKey, message string) (Outcome, error) {
	conn, ok := s.registry.Get(channelType)
	if !ok {
		return OutcomeFailed, fmt.Errorf("delivery: no connector for channel %q", channelType)
	}
	if !conn.Enabled() {
		return OutcomeFailed, connectors.ErrDisabled
	}
	target, ok, err := s.targetFor(ctx, recipientID, channelType)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		return OutcomeSkipped, nil
	}
	payload := domain.PayloadForEvent(eventKey, message).AsMap()
	return s.SendWithLedger(ctx, recipientID, eventKey, channelType, payload, func(ctx context.Context) (string, error) {
		return conn.Send(ctx, target, message)
	})
}

// resolveRoutes builds the per-recipient channel map in deterministic order.
// The DM channel is implicitly enabled unless an explicit row disables it;
// other channels require an enabled row with a bound address plus a globally
// enabled connector.
func (s *Service) resolveRoutes(ctx context.Context, recipientID int64) ([]route, error) {
	subs, err := s.subs.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	byChannel := make(map[string]domain.Subscription, len(subs))
	for _, sub := range subs {
		byChannel[sub.ChannelType] = sub
	}

	var routes []route
	for _, channelType := range domain.KnownChannels() {
		conn, ok := s.registry.Get(channelType)
		if !ok || !conn.Enabled() {
			continue
		}
		sub, hasRow := byChannel[channelType]
		if channelType == domain.ChannelDM {
			if !s.cfg.DMEnabled {
				continue
			}
			if hasRow && !sub.Enabled {
				continue
			}
			target := strconv.FormatInt(recipientID, 10)
			if hasRow && sub.ChannelAddress != "" {
				target = sub.ChannelAddress
			}
			routes = append(routes, route{channelType: channelType, target: target, connector: conn})
			continue
		}
		if !hasRow || !sub.Enabled || sub.ChannelAddress == "" {
			continue
		}
		routes = append(routes, route{channelType: channelType, target: sub.ChannelAddress, connector: conn})
	}
	return routes, nil
}

func (s *Service) targetFor(ctx context.Context, recipientID int64, channelType string) (string, bool, error) {
	sub, err := s.subs.Get(ctx, recipientID, channelType)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}
	if channelType == domain.ChannelDM {
		if sub != nil && !sub.Enabled {
			return "", false, nil
		}
		if sub != nil && sub.ChannelAddress != "" {
			return sub.ChannelAddress, true, nil
		}
		return strconv.FormatInt(recipientID, 10), true, nil
	}
	if sub == nil || !sub.Enabled || sub.ChannelAddress == "" {
		return "", false, nil
	}
	return sub.ChannelAddress, true, nil
}

// dedupeSorted returns the unique recipient ids in ascending order so batch
// results are reproducible.
func dedupeSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
