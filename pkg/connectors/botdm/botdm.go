// Package botdm delivers messages through the resident bot runtime: direct
// messages to recipients and announce posts to channels/groups.
package botdm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quorumbot/notify/pkg/connectors"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/quorumbot/notify/pkg/retry"
)

// Session is the narrow surface of the long-lived bot runtime the connector
// sends through. Implementations translate runtime errors into the connectors
// taxonomy: flood control as RetryAfterError, closed DMs as PermanentError.
type Session interface {
	SendDM(ctx context.Context, recipientID int64, text string) (deliveryID string, err error)
	SendChannel(ctx context.Context, channelID int64, text string) (deliveryID string, err error)
}

// Config holds DM connector options.
type Config struct {
	Enabled        bool
	MinInterval    time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
}

// Connector adapts a Session to the Connector interface.
type Connector struct {
	cfg     Config
	session Session
	pacer   *connectors.Pacer
	log     logger.Logger

	backoff retry.Backoff
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds the connector around a bot runtime session.
func New(cfg Config, session Session, log logger.Logger) *Connector {
	if log == nil {
		log = &logger.Nop{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Connector{
		cfg:     cfg,
		session: session,
		pacer:   connectors.NewPacer(cfg.MinInterval),
		log:     log,
		backoff: retry.ExponentialBackoff{Base: time.Second, Max: 10 * time.Second},
		sleep:   retry.Sleep,
	}
}

func (c *Connector) Name() string { return "bot-runtime" }

func (c *Connector) ChannelType() string { return domain.ChannelDM }

// Enabled reports whether the connector is switched on with a live session.
func (c *Connector) Enabled() bool {
	return c.cfg.Enabled && c.session != nil
}

// Send delivers a DM. The target is the recipient's decimal chat id.
func (c *Connector) Send(ctx context.Context, target, text string) (string, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return "", connectors.Permanent(fmt.Sprintf("botdm: invalid target %q", target), err)
	}
	return c.deliver(ctx, text, func(ctx context.Context) (string, error) {
		return c.session.SendDM(ctx, id, text)
	})
}

// Broadcast posts to a channel/group target.
func (c *Connector) Broadcast(ctx context.Context, channelID int64, text string) (string, error) {
	return c.deliver(ctx, text, func(ctx context.Context) (string, error) {
		return c.session.SendChannel(ctx, channelID, text)
	})
}

func (c *Connector) deliver(ctx context.Context, text string, send func(ctx context.Context) (string, error)) (string, error) {
	if !c.Enabled() {
		return "", connectors.ErrDisabled
	}
	if text == "" {
		return "", connectors.Permanent("botdm: message text required", nil)
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		id, err := send(reqCtx)
		cancel()
		if err == nil {
			return id, nil
		}
		// Closed DMs are terminal; retrying will never help.
		if connectors.IsPermanent(err) {
			return "", err
		}
		lastErr = err
		if attempt == c.cfg.MaxRetries {
			break
		}
		wait, ok := connectors.RetryAfterOf(err)
		if !ok {
			wait = c.backoff.Next(attempt)
		}
		c.log.Warn("bot runtime send retrying",
			logger.Field{Key: "attempt", Value: attempt},
			logger.Field{Key: "wait", Value: wait},
			logger.Field{Key: "error", Value: err},
		)
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("botdm: send failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}
