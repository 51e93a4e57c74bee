package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/store"
)

// SubscriptionRepository is the in-memory subscription store.
type SubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscription
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{subs: make(map[string]domain.Subscription)}
}

func (r *SubscriptionRepository) Get(_ context.Context, recipientID int64, channelType string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[linkKey(recipientID, channelType)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := sub
	return &out, nil
}

func (r *SubscriptionRepository) ListByRecipient(_ context.Context, recipientID int64) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Subscription
	for _, sub := range r.subs {
		if sub.RecipientID == recipientID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelType < out[j].ChannelType })
	return out, nil
}

func (r *SubscriptionRepository) Upsert(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := linkKey(sub.RecipientID, sub.ChannelType)
	now := time.Now().UTC()
	existing, ok := r.subs[key]
	if ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.EnsureID()
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = now
		}
	}
	sub.UpdatedAt = now
	r.subs[key] = *sub
	return nil
}

func (r *SubscriptionRepository) DisableByAddress(_ context.Context, channelType, channelAddress string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	now := time.Now().UTC()
	for key, sub := range r.subs {
		if sub.ChannelType != channelType || sub.ChannelAddress != channelAddress || !sub.Enabled {
			continue
		}
		sub.Enabled = false
		sub.UpdatedAt = now
		r.subs[key] = sub
		count++
	}
	return count, nil
}

func (r *SubscriptionRepository) List(_ context.Context, opts store.ListOptions) (store.ListResult[domain.Subscription], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []domain.Subscription
	for _, sub := range r.subs {
		if !opts.Since.IsZero() && sub.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && sub.CreatedAt.After(opts.Until) {
			continue
		}
		filtered = append(filtered, sub)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})
	total := len(filtered)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := total
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return store.ListResult[domain.Subscription]{Items: filtered[start:end], Total: total}, nil
}

var _ store.SubscriptionRepository = (*SubscriptionRepository)(nil)
