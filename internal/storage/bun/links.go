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

// ChannelLinkRepository persists hashed link tokens and their verified state.
type ChannelLinkRepository struct {
	base baseRepository[domain.ChannelLink]
}

func NewChannelLinkRepository(db *bun.DB) *ChannelLinkRepository {
	handlers := repository.ModelHandlers[*domain.ChannelLink]{
		NewRecord:          func() *domain.ChannelLink { return &domain.ChannelLink{} },
		GetID:              func(l *domain.ChannelLink) uuid.UUID { return l.ID },
		SetID:              func(l *domain.ChannelLink, id uuid.UUID) { l.ID = id },
		GetIdentifier:      func() string { return "id" },
		GetIdentifierValue: func(l *domain.ChannelLink) string { return l.ID.String() },
	}
	return &ChannelLinkRepository{
		base: newBaseRepository[domain.ChannelLink](db, handlers, func(l *domain.ChannelLink) *domain.RecordMeta { return &l.RecordMeta }),
	}
}

func (r *ChannelLinkRepository) Get(ctx context.Context, recipientID int64, channelType string) (*domain.ChannelLink, error) {
	return r.base.getOne(ctx, withRecipientChannel(recipientID, channelType))
}

// UpsertToken stores a fresh pending token for (recipient, channel). Re-issue
// resets verified state so a stale destination cannot carry over past a new
// verification round.
func (r *ChannelLinkRepository) UpsertToken(ctx context.Context, recipientID int64, channelType, tokenHash string, expiresAt time.Time) error {
	link := &domain.ChannelLink{
		RecipientID:    recipientID,
		ChannelType:    channelType,
		TokenHash:      tokenHash,
		TokenExpiresAt: expiresAt.UTC(),
	}
	stampUpsert(&link.RecordMeta)

	_, err := r.base.db.NewInsert().
		Model(link).
		On("CONFLICT (recipient_id, channel_type) DO UPDATE").
		Set("token_hash = EXCLUDED.token_hash").
		Set("token_expires_at = EXCLUDED.token_expires_at").
		Set("verified_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return mapError(err)
}

func (r *ChannelLinkRepository) FindByTokenHash(ctx context.Context, channelType, tokenHash string, now time.Time) (*domain.ChannelLink, error) {
	return r.base.getOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("channel_type = ? AND token_hash = ?", channelType, tokenHash).
			Where("verified_at IS NULL").
			Where("token_expires_at > ?", now.UTC())
	})
}

// MarkVerified consumes a token exactly once. The unverified guard makes two
// racing consumers resolve to one winner; the loser sees ErrNotFound.
func (r *ChannelLinkRepository) MarkVerified(ctx context.Context, id uuid.UUID, destination string, at time.Time) error {
	res, err := r.base.db.NewUpdate().
		Model((*domain.ChannelLink)(nil)).
		Set("destination = ?", destination).
		Set("verified_at = ?", at.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("verified_at IS NULL").
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

var _ store.ChannelLinkRepository = (*ChannelLinkRepository)(nil)
