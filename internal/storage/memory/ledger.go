// Package memory provides in-process repositories with the same contracts as
// the bun-backed ones, for tests and ephemeral tooling.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/store"
)

func ledgerKey(recipientID int64, eventKey, channelType string) string {
	return fmt.Sprintf("%d|%s|%s", recipientID, eventKey, channelType)
}

// LedgerRepository is the in-memory idempotency ledger. The mutex spans each
// whole upsert so the guard semantics match the SQL ON CONFLICT variants.
type LedgerRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.LedgerEntry
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{entries: make(map[string]domain.LedgerEntry)}
}

func (r *LedgerRepository) Get(_ context.Context, recipientID int64, eventKey, channelType string) (*domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[ledgerKey(recipientID, eventKey, channelType)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := entry
	return &out, nil
}

func (r *LedgerRepository) MarkSent(_ context.Context, recipientID int64, eventKey, channelType, deliveryID string, payload domain.JSONMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ledgerKey(recipientID, eventKey, channelType)
	now := time.Now().UTC()
	entry, ok := r.entries[key]
	if ok && entry.Delivered() {
		return nil
	}
	if !ok {
		entry = domain.LedgerEntry{
			RecipientID: recipientID,
			EventKey:    eventKey,
			ChannelType: channelType,
		}
		entry.EnsureID()
		entry.CreatedAt = now
	}
	entry.SentAt = now
	entry.DeliveryID = deliveryID
	entry.Payload = payload
	entry.LastError = ""
	entry.UpdatedAt = now
	r.entries[key] = entry
	return nil
}

func (r *LedgerRepository) MarkFailed(_ context.Context, recipientID int64, eventKey, channelType, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ledgerKey(recipientID, eventKey, channelType)
	now := time.Now().UTC()
	entry, ok := r.entries[key]
	if ok && entry.Delivered() {
		return nil
	}
	if !ok {
		entry = domain.LedgerEntry{
			RecipientID: recipientID,
			EventKey:    eventKey,
			ChannelType: channelType,
		}
		entry.EnsureID()
		entry.CreatedAt = now
	}
	entry.LastError = lastError
	entry.RetryCount++
	entry.UpdatedAt = now
	r.entries[key] = entry
	return nil
}

func (r *LedgerRepository) ListByEventKey(_ context.Context, eventKey string, opts store.ListOptions) (store.ListResult[domain.LedgerEntry], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []domain.LedgerEntry
	for _, entry := range r.entries {
		if entry.EventKey == eventKey {
			matched = append(matched, entry)
		}
	}
	return paginateLedger(matched, opts), nil
}

func (r *LedgerRepository) List(_ context.Context, opts store.ListOptions) (store.ListResult[domain.LedgerEntry], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]domain.LedgerEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		matched = append(matched, entry)
	}
	return paginateLedger(matched, opts), nil
}

func paginateLedger(entries []domain.LedgerEntry, opts store.ListOptions) store.ListResult[domain.LedgerEntry] {
	var filtered []domain.LedgerEntry
	for _, entry := range entries {
		if !opts.Since.IsZero() && entry.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && entry.CreatedAt.After(opts.Until) {
			continue
		}
		filtered = append(filtered, entry)
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
	return store.ListResult[domain.LedgerEntry]{Items: filtered[start:end], Total: total}
}

var _ store.LedgerRepository = (*LedgerRepository)(nil)
