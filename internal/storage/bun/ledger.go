package bunrepo

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/store"
	"github.com/uptrace/bun"
)

// LedgerRepository persists the idempotency ledger. MarkSent and MarkFailed
// are single INSERT ... ON CONFLICT statements so concurrent writers for the
// same key cannot interleave a read-then-write; rows that already carry a
// delivery id are never modified.
type LedgerRepository struct {
	base baseRepository[domain.LedgerEntry]
}

func NewLedgerRepository(db *bun.DB) *LedgerRepository {
	handlers := repository.ModelHandlers[*domain.LedgerEntry]{
		NewRecord:          func() *domain.LedgerEntry { return &domain.LedgerEntry{} },
		GetID:              func(e *domain.LedgerEntry) uuid.UUID { return e.ID },
		SetID:              func(e *domain.LedgerEntry, id uuid.UUID) { e.ID = id },
		GetIdentifier:      func() string { return "id" },
		GetIdentifierValue: func(e *domain.LedgerEntry) string { return e.ID.String() },
	}
	return &LedgerRepository{
		base: newBaseRepository[domain.LedgerEntry](db, handlers, func(e *domain.LedgerEntry) *domain.RecordMeta { return &e.RecordMeta }),
	}
}

func (r *LedgerRepository) Get(ctx context.Context, recipientID int64, eventKey, channelType string) (*domain.LedgerEntry, error) {
	return r.base.getOne(ctx, withRecipientChannel(recipientID, channelType), withEventKey(eventKey))
}

// MarkSent records terminal success. The ON CONFLICT update is guarded so an
// entry that already holds a delivery id keeps its original outcome.
func (r *LedgerRepository) MarkSent(ctx context.Context, recipientID int64, eventKey, channelType, deliveryID string, payload domain.JSONMap) error {
	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		RecipientID: recipientID,
		EventKey:    eventKey,
		ChannelType: channelType,
		SentAt:      now,
		DeliveryID:  deliveryID,
		Payload:     payload,
	}
	stampUpsert(&entry.RecordMeta)

	_, err := r.base.db.NewInsert().
		Model(entry).
		On("CONFLICT (recipient_id, event_key, channel_type) DO UPDATE").
		Set("sent_at = EXCLUDED.sent_at").
		Set("delivery_id = EXCLUDED.delivery_id").
		Set("payload = EXCLUDED.payload").
		Set("last_error = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Where("delivery_id IS NULL").
		Exec(ctx)
	return mapError(err)
}

// MarkFailed records a failed attempt. A fresh row starts at retry_count 1;
// an existing undelivered row increments in place. Delivered rows are left
// untouched.
func (r *LedgerRepository) MarkFailed(ctx context.Context, recipientID int64, eventKey, channelType, lastError string) error {
	entry := &domain.LedgerEntry{
		RecipientID: recipientID,
		EventKey:    eventKey,
		ChannelType: channelType,
		LastError:   lastError,
		RetryCount:  1,
	}
	stampUpsert(&entry.RecordMeta)

	_, err := r.base.db.NewInsert().
		Model(entry).
		On("CONFLICT (recipient_id, event_key, channel_type) DO UPDATE").
		Set("last_error = EXCLUDED.last_error").
		Set("retry_count = retry_count + 1").
		Set("updated_at = EXCLUDED.updated_at").
		Where("delivery_id IS NULL").
		Exec(ctx)
	return mapError(err)
}

func (r *LedgerRepository) ListByEventKey(ctx context.Context, eventKey string, opts store.ListOptions) (store.ListResult[domain.LedgerEntry], error) {
	return r.base.list(ctx, opts, withEventKey(eventKey))
}

func (r *LedgerRepository) List(ctx context.Context, opts store.ListOptions) (store.ListResult[domain.LedgerEntry], error) {
	return r.base.list(ctx, opts)
}

var _ store.LedgerRepository = (*LedgerRepository)(nil)
