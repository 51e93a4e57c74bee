package botdm

import (
	"context"
	"errors"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/quorumbot/notify/pkg/connectors"
)

// TelebotSession backs the connector with a telebot bot instance.
type TelebotSession struct {
	bot *tele.Bot
}

var _ Session = (*TelebotSession)(nil)

// NewTelebotSession wraps an already-constructed bot.
func NewTelebotSession(bot *tele.Bot) *TelebotSession {
	return &TelebotSession{bot: bot}
}

func (s *TelebotSession) SendDM(ctx context.Context, recipientID int64, text string) (string, error) {
	return s.send(ctx, recipientID, text)
}

func (s *TelebotSession) SendChannel(ctx context.Context, channelID int64, text string) (string, error) {
	return s.send(ctx, channelID, text)
}

func (s *TelebotSession) send(ctx context.Context, chatID int64, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg, err := s.bot.Send(tele.ChatID(chatID), text)
	if err != nil {
		return "", translateError(err)
	}
	return strconv.Itoa(msg.ID), nil
}

// translateError maps telebot errors onto the connectors taxonomy: flood
// control carries a retry hint, 403s (blocked bot, closed DMs) are terminal.
func translateError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &connectors.RetryAfterError{
			After: time.Duration(flood.RetryAfter) * time.Second,
			Err:   err,
		}
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return connectors.Permanent("botdm: dms closed", err)
	}
	return err
}
