package bunrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/store"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupSQLiteDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	sqldb, err := sql.Open(sqliteshim.DriverName(), dsn)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestLedgerMarkSentIsIdempotent(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	if err := repo.MarkSent(ctx, 1, "EV:1", "dm", "first", domain.JSONMap{"kind": "generic"}); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	// A second writer for the same key must not overwrite the outcome.
	if err := repo.MarkSent(ctx, 1, "EV:1", "dm", "second", nil); err != nil {
		t.Fatalf("second mark sent: %v", err)
	}

	entry, err := repo.Get(ctx, 1, "EV:1", "dm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.DeliveryID != "first" {
		t.Fatalf("delivery id must be immutable, got %q", entry.DeliveryID)
	}
	if entry.SentAt.IsZero() {
		t.Fatal("expected sent_at stamp")
	}
}

func TestLedgerMarkFailedIncrementsRetryCount(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := repo.MarkFailed(ctx, 1, "EV:1", "telegram", fmt.Sprintf("boom %d", i)); err != nil {
			t.Fatalf("mark failed %d: %v", i, err)
		}
		entry, err := repo.Get(ctx, 1, "EV:1", "telegram")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if entry.RetryCount != i {
			t.Fatalf("expected retry count %d, got %d", i, entry.RetryCount)
		}
		if entry.LastError != fmt.Sprintf("boom %d", i) {
			t.Fatalf("expected latest error recorded, got %q", entry.LastError)
		}
	}
}

func TestLedgerFailureDoesNotClobberSuccess(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	if err := repo.MarkSent(ctx, 1, "EV:1", "dm", "done", nil); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, 1, "EV:1", "dm", "late failure"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	entry, err := repo.Get(ctx, 1, "EV:1", "dm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !entry.Delivered() || entry.DeliveryID != "done" {
		t.Fatalf("delivered entry must survive a late failure, got %+v", entry)
	}
	if entry.LastError != "" {
		t.Fatalf("delivered entry must not record errors, got %q", entry.LastError)
	}
}

func TestLedgerSuccessClearsLastError(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	if err := repo.MarkFailed(ctx, 1, "EV:1", "dm", "first try failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkSent(ctx, 1, "EV:1", "dm", "ok-2", nil); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	entry, err := repo.Get(ctx, 1, "EV:1", "dm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.LastError != "" {
		t.Fatalf("success must clear last_error, got %q", entry.LastError)
	}
	if entry.RetryCount != 1 {
		t.Fatalf("retry history is preserved, got %d", entry.RetryCount)
	}
}

func TestLedgerKeysAreIndependent(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	if err := repo.MarkSent(ctx, 77, "EV:1", "dm", "dm-77", nil); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	// The broadcast pseudo-identity for channel 77 is a distinct row.
	if err := repo.MarkSent(ctx, -77, "EV:1", "dm", "bc-77", nil); err != nil {
		t.Fatalf("mark broadcast sent: %v", err)
	}

	list, err := repo.ListByEventKey(ctx, "EV:1", store.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 2 {
		t.Fatalf("expected 2 rows, got %d", list.Total)
	}

	if _, err := repo.Get(ctx, 77, "EV:2", "dm"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other event, got %v", err)
	}
}

func TestChannelLinkTokenLifecycle(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewChannelLinkRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.UpsertToken(ctx, 42, "telegram", "hash-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("upsert token: %v", err)
	}

	link, err := repo.FindByTokenHash(ctx, "telegram", "hash-1", now)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if link.RecipientID != 42 {
		t.Fatalf("expected recipient 42, got %d", link.RecipientID)
	}

	if err := repo.MarkVerified(ctx, link.ID, "chat-42", now); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	// Consumed tokens are gone.
	if _, err := repo.FindByTokenHash(ctx, "telegram", "hash-1", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after verification, got %v", err)
	}
	// Second verification loses the race.
	if err := repo.MarkVerified(ctx, link.ID, "chat-other", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double verify, got %v", err)
	}

	got, err := repo.Get(ctx, 42, "telegram")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Destination != "chat-42" || !got.Verified() {
		t.Fatalf("expected verified link to chat-42, got %+v", got)
	}
}

func TestChannelLinkReissueResetsVerification(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewChannelLinkRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.UpsertToken(ctx, 42, "signal", "hash-a", now.Add(time.Hour)); err != nil {
		t.Fatalf("first token: %v", err)
	}
	link, err := repo.FindByTokenHash(ctx, "signal", "hash-a", now)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := repo.MarkVerified(ctx, link.ID, "+15550199", now); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := repo.UpsertToken(ctx, 42, "signal", "hash-b", now.Add(time.Hour)); err != nil {
		t.Fatalf("re-issue: %v", err)
	}

	got, err := repo.Get(ctx, 42, "signal")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Verified() {
		t.Fatal("re-issue must reset verified state")
	}
	if got.TokenHash != "hash-b" {
		t.Fatalf("expected replacement hash, got %q", got.TokenHash)
	}
	// The old hash no longer resolves; the new one does.
	if _, err := repo.FindByTokenHash(ctx, "signal", "hash-a", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected stale hash to miss, got %v", err)
	}
	if _, err := repo.FindByTokenHash(ctx, "signal", "hash-b", now); err != nil {
		t.Fatalf("expected new hash to resolve: %v", err)
	}
}

func TestExpiredTokenIsNotFound(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewChannelLinkRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.UpsertToken(ctx, 42, "telegram", "hash-x", now.Add(-time.Minute)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := repo.FindByTokenHash(ctx, "telegram", "hash-x", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired token, got %v", err)
	}
}

func TestSubscriptionUpsertAndDisable(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	sub := &domain.Subscription{
		RecipientID:    1,
		ChannelType:    "telegram",
		ChannelAddress: "chat-1",
		Enabled:        true,
	}
	if err := repo.Upsert(ctx, sub); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Upsert for the same key replaces in place.
	sub2 := &domain.Subscription{
		RecipientID:    1,
		ChannelType:    "telegram",
		ChannelAddress: "chat-1b",
		Enabled:        true,
		Preferences:    domain.Preferences{Silent: true},
	}
	if err := repo.Upsert(ctx, sub2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.Get(ctx, 1, "telegram")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ChannelAddress != "chat-1b" || !got.Preferences.Silent {
		t.Fatalf("expected replaced row, got %+v", got)
	}

	subs, err := repo.ListByRecipient(ctx, 1)
	if err != nil {
		t.Fatalf("list by recipient: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected single row after upsert, got %d", len(subs))
	}

	count, err := repo.DisableByAddress(ctx, "telegram", "chat-1b")
	if err != nil || count != 1 {
		t.Fatalf("disable: count=%d err=%v", count, err)
	}
	got, err = repo.Get(ctx, 1, "telegram")
	if err != nil {
		t.Fatalf("get after disable: %v", err)
	}
	if got.Enabled {
		t.Fatal("expected disabled subscription")
	}

	count, err = repo.DisableByAddress(ctx, "telegram", "chat-1b")
	if err != nil || count != 0 {
		t.Fatalf("repeat disable must affect 0 rows, got count=%d err=%v", count, err)
	}
}

func TestCredentialBackendRoundTrip(t *testing.T) {
	db := setupSQLiteDB(t)
	backend := NewCredentialBackend(db)
	ctx := context.Background()

	if err := backend.Save(ctx, "telegram.token", []byte("cipher-1"), []byte("nonce-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Overwrite.
	if err := backend.Save(ctx, "telegram.token", []byte("cipher-2"), []byte("nonce-2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	cipher, nonce, err := backend.Load(ctx, "telegram.token")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(cipher) != "cipher-2" || string(nonce) != "nonce-2" {
		t.Fatalf("expected latest material, got %q %q", cipher, nonce)
	}

	if err := backend.Delete(ctx, "telegram.token"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := backend.Load(ctx, "telegram.token"); err == nil {
		t.Fatal("expected error after delete")
	}
}
