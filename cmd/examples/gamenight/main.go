// Command gamenight demonstrates the full delivery flow: a nightly
// "session ready" event fanned out to a roster, with a telegram link created
// through the token round-trip. DMs are printed to stdout so the example runs
// without live credentials.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	bunrepo "github.com/quorumbot/notify/internal/storage/bun"
	"github.com/quorumbot/notify/pkg/config"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/quorumbot/notify/pkg/notifier"
)

// consoleSession stands in for the live bot runtime.
type consoleSession struct{}

func (consoleSession) SendDM(_ context.Context, recipientID int64, text string) (string, error) {
	fmt.Printf("[dm -> %d] %s\n", recipientID, text)
	return fmt.Sprintf("console-%d", recipientID), nil
}

func (consoleSession) SendChannel(_ context.Context, channelID int64, text string) (string, error) {
	fmt.Printf("[channel %d] %s\n", channelID, text)
	return fmt.Sprintf("console-ch-%d", channelID), nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gamenight:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	lgr := logger.Default()

	cfg := config.Defaults()
	cfg.Notifier.AnnounceEnabled = true
	cfg.Notifier.AnnounceChannelID = 424242
	cfg.Persistence.DSN = "file:gamenight.db?cache=shared"

	db, err := bunrepo.OpenDatabase(ctx, cfg.Persistence, lgr)
	if err != nil {
		return err
	}
	defer db.Close()

	module, err := notifier.NewModule(ctx, notifier.ModuleOptions{
		Config:  cfg,
		DB:      db,
		Logger:  lgr,
		Session: consoleSession{},
	})
	if err != nil {
		return err
	}
	manager := module.Manager()

	roster := []int64{1001, 1002, 1003}

	// Link recipient 1002 to a telegram chat. In a real deployment the token
	// travels out of band and comes back from the chat itself; the connector
	// stays disabled here so only the ledger side of the flow runs.
	token, err := manager.CreateLinkToken(ctx, 1002, domain.ChannelTelegram)
	if err != nil {
		return err
	}
	if _, err := manager.ConsumeLinkToken(ctx, domain.ChannelTelegram, token, "tg-chat-1002"); err != nil {
		return err
	}

	eventKey := fmt.Sprintf("SESSION_READY:%s", time.Now().Format("2006-01-02"))
	summary, err := manager.Notify(ctx, eventKey, "Game night is on! First seat 20:00.", roster)
	if err != nil {
		return err
	}
	fmt.Printf("first run: sent=%d skipped=%d failed=%d\n", summary.Sent, summary.Skipped, summary.Failed)

	// Running the same event again delivers nothing: the ledger already
	// holds every (recipient, event, channel) outcome.
	summary, err = manager.Notify(ctx, eventKey, "Game night is on! First seat 20:00.", roster)
	if err != nil {
		return err
	}
	fmt.Printf("replay:    sent=%d skipped=%d failed=%d\n", summary.Sent, summary.Skipped, summary.Failed)

	return nil
}
