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

// SubscriptionRepository persists per-recipient channel enablement.
type SubscriptionRepository struct {
	base baseRepository[domain.Subscription]
}

func NewSubscriptionRepository(db *bun.DB) *SubscriptionRepository {
	handlers := repository.ModelHandlers[*domain.Subscription]{
		NewRecord:          func() *domain.Subscription { return &domain.Subscription{} },
		GetID:              func(s *domain.Subscription) uuid.UUID { return s.ID },
		SetID:              func(s *domain.Subscription, id uuid.UUID) { s.ID = id },
		GetIdentifier:      func() string { return "id" },
		GetIdentifierValue: func(s *domain.Subscription) string { return s.ID.String() },
	}
	return &SubscriptionRepository{
		base: newBaseRepository[domain.Subscription](db, handlers, func(s *domain.Subscription) *domain.RecordMeta { return &s.RecordMeta }),
	}
}

func (r *SubscriptionRepository) Get(ctx context.Context, recipientID int64, channelType string) (*domain.Subscription, error) {
	return r.base.getOne(ctx, withRecipientChannel(recipientID, channelType))
}

func (r *SubscriptionRepository) ListByRecipient(ctx context.Context, recipientID int64) ([]domain.Subscription, error) {
	return r.base.listAll(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("recipient_id = ?", recipientID)
	})
}

func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	stampUpsert(&sub.RecordMeta)
	_, err := r.base.db.NewInsert().
		Model(sub).
		On("CONFLICT (recipient_id, channel_type) DO UPDATE").
		Set("channel_address = EXCLUDED.channel_address").
		Set("enabled = EXCLUDED.enabled").
		Set("preferences = EXCLUDED.preferences").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return mapError(err)
}

// DisableByAddress flips off every enabled subscription bound to an external
// address. Rows are kept so the prior binding remains visible to operators.
func (r *SubscriptionRepository) DisableByAddress(ctx context.Context, channelType, channelAddress string) (int, error) {
	res, err := r.base.db.NewUpdate().
		Model((*domain.Subscription)(nil)).
		Set("enabled = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("channel_type = ?", channelType).
		Where("channel_address = ?", channelAddress).
		Where("enabled = ?", true).
		Exec(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *SubscriptionRepository) List(ctx context.Context, opts store.ListOptions) (store.ListResult[domain.Subscription], error) {
	return r.base.list(ctx, opts)
}

var _ store.SubscriptionRepository = (*SubscriptionRepository)(nil)
