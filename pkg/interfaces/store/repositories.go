package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quorumbot/notify/pkg/domain"
)

// ErrNotFound is returned when a record cannot be located.
var ErrNotFound = errors.New("store: not found")

// ListOptions capture pagination and filtering knobs common to repositories.
type ListOptions struct {
	Limit              int
	Offset             int
	Since              time.Time
	Until              time.Time
	IncludeSoftDeleted bool
}

// ListResult bundles records and totals.
type ListResult[T any] struct {
	Items []T
	Total int
}

// LedgerRepository is the durable idempotency record keyed by
// (recipient_id, event_key, channel_type). MarkSent and MarkFailed must be
// single atomic upserts, not read-then-write pairs; the ledger is the
// cross-process correctness boundary.
type LedgerRepository interface {
	// Get returns the entry for the key or ErrNotFound.
	Get(ctx context.Context, recipientID int64, eventKey, channelType string) (*domain.LedgerEntry, error)
	// MarkSent records terminal success. An existing entry with a delivery id
	// is left untouched.
	MarkSent(ctx context.Context, recipientID int64, eventKey, channelType, deliveryID string, payload domain.JSONMap) error
	// MarkFailed records a failed attempt, incrementing retry_count (starting
	// at 1 for a fresh row). Entries that already succeeded are left untouched.
	MarkFailed(ctx context.Context, recipientID int64, eventKey, channelType, lastError string) error
	// ListByEventKey returns the audit trail for one logical event.
	ListByEventKey(ctx context.Context, eventKey string, opts ListOptions) (ListResult[domain.LedgerEntry], error)
	// List pages through the full audit trail.
	List(ctx context.Context, opts ListOptions) (ListResult[domain.LedgerEntry], error)
}

// ChannelLinkRepository persists the hashed link-token state.
type ChannelLinkRepository interface {
	// Get returns the link row for (recipient, channel) or ErrNotFound.
	Get(ctx context.Context, recipientID int64, channelType string) (*domain.ChannelLink, error)
	// UpsertToken stores a fresh pending token, overwriting any prior token
	// for the same (recipient, channel) and clearing verified state.
	UpsertToken(ctx context.Context, recipientID int64, channelType, tokenHash string, expiresAt time.Time) error
	// FindByTokenHash locates an unexpired, unverified link matching
	// (channel_type, token_hash); ErrNotFound otherwise.
	FindByTokenHash(ctx context.Context, channelType, tokenHash string, now time.Time) (*domain.ChannelLink, error)
	// MarkVerified stamps destination and verified_at exactly once per token;
	// ErrNotFound when the row was already consumed.
	MarkVerified(ctx context.Context, id uuid.UUID, destination string, at time.Time) error
}

// SubscriptionRepository stores per-recipient, per-channel enablement.
type SubscriptionRepository interface {
	// Get returns the subscription for (recipient, channel) or ErrNotFound.
	Get(ctx context.Context, recipientID int64, channelType string) (*domain.Subscription, error)
	// ListByRecipient returns every subscription row for a recipient.
	ListByRecipient(ctx context.Context, recipientID int64) ([]domain.Subscription, error)
	// Upsert creates or replaces the row for (recipient, channel).
	Upsert(ctx context.Context, sub *domain.Subscription) error
	// DisableByAddress disables (not deletes) enabled subscriptions bound to
	// the address and returns the affected-row count. Idempotent.
	DisableByAddress(ctx context.Context, channelType, channelAddress string) (int, error)
	// List pages through all subscriptions.
	List(ctx context.Context, opts ListOptions) (ListResult[domain.Subscription], error)
}
