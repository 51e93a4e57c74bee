// Package links issues and consumes the single-use tokens that bind an
// external channel identity (Telegram chat, Signal number) to a recipient.
// Raw tokens are never persisted; only their SHA-256 hex digest is stored.
package links

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/quorumbot/notify/pkg/interfaces/store"
)

const (
	tokenBytes      = 32
	defaultTokenTTL = 30 * time.Minute
	minTokenTTL     = 5 * time.Minute
)

// ErrTokenInvalid covers every consume failure: unknown token, expired
// token, already-used token. Callers get one signal so responses cannot be
// used to probe which tokens exist.
var ErrTokenInvalid = errors.New("links: invalid or expired token")

// ErrChannelNotLinkable rejects token requests for channels that do not use
// the link flow.
var ErrChannelNotLinkable = errors.New("links: channel does not support link tokens")

// Dependencies groups the stores required by the service.
type Dependencies struct {
	Links         store.ChannelLinkRepository
	Subscriptions store.SubscriptionRepository
	Logger        logger.Logger
}

// Service implements the verification-token lifecycle.
type Service struct {
	links    store.ChannelLinkRepository
	subs     store.SubscriptionRepository
	logger   logger.Logger
	tokenTTL time.Duration
	now      func() time.Time
	randRead func([]byte) (int, error)
}

// Option customizes the service.
type Option func(*Service)

// WithTokenTTL overrides the token lifetime. Values below the floor are
// clamped up.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandReader overrides the entropy source.
func WithRandReader(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.randRead = func(b []byte) (int, error) { return io.ReadFull(r, b) }
		}
	}
}

// New builds the link service.
func New(deps Dependencies, opts ...Option) (*Service, error) {
	if deps.Links == nil {
		return nil, errors.New("links: link repository is required")
	}
	if deps.Subscriptions == nil {
		return nil, errors.New("links: subscription repository is required")
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	s := &Service{
		links:    deps.Links,
		subs:     deps.Subscriptions,
		logger:   deps.Logger,
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
		randRead: rand.Read,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokenTTL < minTokenTTL {
		s.tokenTTL = minTokenTTL
	}
	return s, nil
}

// CreateToken issues a fresh single-use token for (recipient, channel),
// replacing any prior token for the same pair. The raw token is returned to
// the caller exactly once and never stored.
func (s *Service) CreateToken(ctx context.Context, recipientID int64, channelType string) (string, error) {
	if !domain.IsLinkableChannel(channelType) {
		return "", fmt.Errorf("%w: %s", ErrChannelNotLinkable, channelType)
	}

	raw := make([]byte, tokenBytes)
	if _, err := s.randRead(raw); err != nil {
		return "", fmt.Errorf("links: token entropy: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	expiresAt := s.now().Add(s.tokenTTL)

	if err := s.links.UpsertToken(ctx, recipientID, channelType, HashToken(token), expiresAt); err != nil {
		return "", fmt.Errorf("links: store token: %w", err)
	}

	s.logger.Debug("link token issued",
		logger.Field{Key: "recipient", Value: recipientID},
		logger.Field{Key: "channel", Value: channelType},
		logger.Field{Key: "expires_at", Value: expiresAt},
	)
	return token, nil
}

// ConsumeToken verifies a token presented from an external channel and binds
// the external destination to the owning recipient, enabling the channel's
// subscription. Any failure maps to ErrTokenInvalid.
func (s *Service) ConsumeToken(ctx context.Context, channelType, token, destination string) (*domain.ChannelLink, error) {
	if token == "" || destination == "" {
		return nil, ErrTokenInvalid
	}
	now := s.now()

	link, err := s.links.FindByTokenHash(ctx, channelType, HashToken(token), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("links: lookup token: %w", err)
	}

	if err := s.links.MarkVerified(ctx, link.ID, destination, now); err != nil {
		// A concurrent consumer won the row; same answer as a bad token.
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("links: verify token: %w", err)
	}
	link.Destination = destination
	link.VerifiedAt = now

	sub := &domain.Subscription{
		RecipientID:    link.RecipientID,
		ChannelType:    channelType,
		ChannelAddress: destination,
		Enabled:        true,
	}
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("links: enable subscription: %w", err)
	}

	s.logger.Info("channel linked",
		logger.Field{Key: "recipient", Value: link.RecipientID},
		logger.Field{Key: "channel", Value: channelType},
	)
	return link, nil
}

// UnsubscribeByAddress disables every subscription bound to an external
// address, for opt-out commands arriving from the channel itself. Returns
// the number of subscriptions disabled; zero is not an error.
func (s *Service) UnsubscribeByAddress(ctx context.Context, channelType, address string) (int, error) {
	if address == "" {
		return 0, errors.New("links: address is required")
	}
	count, err := s.subs.DisableByAddress(ctx, channelType, address)
	if err != nil {
		return 0, fmt.Errorf("links: unsubscribe: %w", err)
	}
	if count > 0 {
		s.logger.Info("address unsubscribed",
			logger.Field{Key: "channel", Value: channelType},
			logger.Field{Key: "count", Value: count},
		)
	}
	return count, nil
}

// HashToken returns the hex SHA-256 digest used for storage and lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
