package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/store"
)

// ChannelLinkRepository is the in-memory link-token store.
type ChannelLinkRepository struct {
	mu    sync.RWMutex
	links map[string]domain.ChannelLink
}

func NewChannelLinkRepository() *ChannelLinkRepository {
	return &ChannelLinkRepository{links: make(map[string]domain.ChannelLink)}
}

func linkKey(recipientID int64, channelType string) string {
	return fmt.Sprintf("%d|%s", recipientID, channelType)
}

func (r *ChannelLinkRepository) Get(_ context.Context, recipientID int64, channelType string) (*domain.ChannelLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[linkKey(recipientID, channelType)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := link
	return &out, nil
}

func (r *ChannelLinkRepository) UpsertToken(_ context.Context, recipientID int64, channelType, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := linkKey(recipientID, channelType)
	now := time.Now().UTC()
	link, ok := r.links[key]
	if !ok {
		link = domain.ChannelLink{
			RecipientID: recipientID,
			ChannelType: channelType,
		}
		link.EnsureID()
		link.CreatedAt = now
	}
	link.TokenHash = tokenHash
	link.TokenExpiresAt = expiresAt.UTC()
	link.VerifiedAt = time.Time{}
	link.UpdatedAt = now
	r.links[key] = link
	return nil
}

func (r *ChannelLinkRepository) FindByTokenHash(_ context.Context, channelType, tokenHash string, now time.Time) (*domain.ChannelLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, link := range r.links {
		if link.ChannelType != channelType || link.TokenHash != tokenHash {
			continue
		}
		if link.Verified() || !link.TokenExpiresAt.After(now.UTC()) {
			continue
		}
		out := link
		return &out, nil
	}
	return nil, store.ErrNotFound
}

func (r *ChannelLinkRepository) MarkVerified(_ context.Context, id uuid.UUID, destination string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, link := range r.links {
		if link.ID != id {
			continue
		}
		if link.Verified() {
			return store.ErrNotFound
		}
		link.Destination = destination
		link.VerifiedAt = at.UTC()
		link.UpdatedAt = time.Now().UTC()
		r.links[key] = link
		return nil
	}
	return store.ErrNotFound
}

var _ store.ChannelLinkRepository = (*ChannelLinkRepository)(nil)
