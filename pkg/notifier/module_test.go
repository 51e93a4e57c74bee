package notifier

import (
	"context"
	"fmt"
	"strings"
	"testing"

	bunrepo "github.com/quorumbot/notify/internal/storage/bun"
	"github.com/quorumbot/notify/pkg/config"
	"github.com/quorumbot/notify/pkg/credentials"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/uptrace/bun"
)

type stubSession struct{}

func (stubSession) SendDM(_ context.Context, recipientID int64, _ string) (string, error) {
	return fmt.Sprintf("dm-%d", recipientID), nil
}

func (stubSession) SendChannel(_ context.Context, channelID int64, _ string) (string, error) {
	return fmt.Sprintf("ch-%d", channelID), nil
}

func openModuleDB(t *testing.T) *bun.DB {
	t.Helper()
	db, err := bunrepo.OpenDatabase(context.Background(), config.PersistenceConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, &logger.Nop{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func moduleCredentials(t *testing.T) credentials.Store {
	t.Helper()
	store, err := credentials.NewEncryptedStore(credentials.NewMemoryBackend(), make([]byte, 32))
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	return store
}

func TestModuleConstruction(t *testing.T) {
	cfg := config.Defaults()
	cfg.Connectors.Telegram.Enabled = true
	cfg.Connectors.Telegram.Token = "cfg-token"

	module, err := NewModule(context.Background(), ModuleOptions{
		Config:  cfg,
		DB:      openModuleDB(t),
		Logger:  &logger.Nop{},
		Session: stubSession{},
	})
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	if module.Manager() == nil {
		t.Fatal("expected manager")
	}
	if !module.Registry().Usable(domain.ChannelDM) {
		t.Fatal("expected usable DM connector")
	}
	if !module.Registry().Usable(domain.ChannelTelegram) {
		t.Fatal("expected usable telegram connector")
	}
	// Signal stays registered but disabled without config.
	if _, ok := module.Registry().Get(domain.ChannelSignal); !ok {
		t.Fatal("expected signal connector registered")
	}
	if module.Registry().Usable(domain.ChannelSignal) {
		t.Fatal("signal connector must stay disabled without an account")
	}
}

func TestModuleResolvesTokenFromCredentialStore(t *testing.T) {
	ctx := context.Background()
	creds := moduleCredentials(t)
	if err := creds.Put(ctx, CredentialTelegramToken, []byte("vault-token")); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	cfg := config.Defaults()
	cfg.Connectors.Telegram.Enabled = true

	module, err := NewModule(ctx, ModuleOptions{
		Config:      cfg,
		DB:          openModuleDB(t),
		Logger:      &logger.Nop{},
		Session:     stubSession{},
		Credentials: creds,
	})
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	if !module.Registry().Usable(domain.ChannelTelegram) {
		t.Fatal("expected telegram connector enabled via stored token")
	}
	if got := module.Manager().Config().Connectors.Telegram.Token; got != "vault-token" {
		t.Fatalf("expected resolved token, got %q", got)
	}
}

func TestModuleResolvesSignalAccountFromCredentialStore(t *testing.T) {
	ctx := context.Background()
	creds := moduleCredentials(t)
	if err := creds.Put(ctx, CredentialSignalAccount, []byte("+15550100")); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	cfg := config.Defaults()
	cfg.Connectors.Signal.Enabled = true
	cfg.Connectors.Signal.Mode = "daemon"
	cfg.Connectors.Signal.DaemonURL = "http://127.0.0.1:9922"

	module, err := NewModule(ctx, ModuleOptions{
		Config:      cfg,
		DB:          openModuleDB(t),
		Logger:      &logger.Nop{},
		Credentials: creds,
	})
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	if !module.Registry().Usable(domain.ChannelSignal) {
		t.Fatal("expected signal connector enabled via stored account")
	}
}

func TestModuleMissingSecretFailsValidation(t *testing.T) {
	cfg := config.Defaults()
	cfg.Connectors.Telegram.Enabled = true

	_, err := NewModule(context.Background(), ModuleOptions{
		Config:  cfg,
		DB:      openModuleDB(t),
		Logger:  &logger.Nop{},
		Session: stubSession{},
	})
	if err == nil {
		t.Fatal("expected error when no source holds the token")
	}
	if !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("expected token validation error, got %v", err)
	}
}
