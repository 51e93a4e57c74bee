// Package httpapi delivers messages through a Telegram-style HTTP Bot API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quorumbot/notify/pkg/connectors"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/quorumbot/notify/pkg/retry"
)

// Config holds Bot API options.
type Config struct {
	Enabled               bool
	Token                 string
	BaseURL               string
	MinInterval           time.Duration
	MaxRetries            int
	RequestTimeout        time.Duration
	DisableWebPagePreview bool
}

// Connector sends through POST /bot<token>/sendMessage.
type Connector struct {
	cfg    Config
	client *http.Client
	pacer  *connectors.Pacer
	log    logger.Logger

	// Backoff fallbacks when the server does not provide a wait hint.
	rateBackoff   retry.Backoff
	serverBackoff retry.Backoff
	sleep         func(ctx context.Context, d time.Duration) error
}

type Option func(*Connector)

// WithClient allows injecting a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(conn *Connector) {
		if c != nil {
			conn.client = c
		}
	}
}

// New builds the connector from config.
func New(cfg Config, log logger.Logger, opts ...Option) *Connector {
	if log == nil {
		log = &logger.Nop{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	conn := &Connector{
		cfg:           cfg,
		pacer:         connectors.NewPacer(cfg.MinInterval),
		log:           log,
		rateBackoff:   retry.ExponentialBackoff{Base: 2 * time.Second, Max: 30 * time.Second},
		serverBackoff: retry.ExponentialBackoff{Base: 2 * time.Second, Max: 10 * time.Second},
		sleep:         retry.Sleep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(conn)
		}
	}
	if conn.client == nil {
		conn.client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return conn
}

func (c *Connector) Name() string { return "http-bot-api" }

func (c *Connector) ChannelType() string { return domain.ChannelTelegram }

// Enabled reports whether the connector is switched on and credentialed.
func (c *Connector) Enabled() bool {
	return c.cfg.Enabled && strings.TrimSpace(c.cfg.Token) != ""
}

// Send delivers text to the chat id in target, retrying transient failures
// up to MaxRetries. 429 honors the server's Retry-After hint, 5xx backs off
// exponentially, any other 4xx fails immediately.
func (c *Connector) Send(ctx context.Context, target, text string) (string, error) {
	if !c.Enabled() {
		return "", connectors.ErrDisabled
	}
	chatID := strings.TrimSpace(target)
	if chatID == "" {
		return "", connectors.Permanent("httpapi: chat id required", nil)
	}
	if text == "" {
		return "", connectors.Permanent("httpapi: message text required", nil)
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		id, wait, err := c.attempt(ctx, chatID, text, attempt)
		if err == nil {
			return id, nil
		}
		if connectors.IsPermanent(err) {
			return "", err
		}
		lastErr = err
		if attempt == c.cfg.MaxRetries {
			break
		}
		c.log.Warn("bot api send retrying",
			logger.Field{Key: "attempt", Value: attempt},
			logger.Field{Key: "wait", Value: wait},
			logger.Field{Key: "error", Value: err},
		)
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("httpapi: send failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	RetryAfter int `json:"retry_after"`
}

// attempt performs one HTTP round-trip. For transient failures it returns the
// delay to wait before the next attempt.
func (c *Connector) attempt(ctx context.Context, chatID, text string, attempt int) (string, time.Duration, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if c.cfg.DisableWebPagePreview {
		payload["disable_web_page_preview"] = true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, connectors.Permanent("httpapi: encode payload", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(c.cfg.BaseURL, "/"), strings.TrimSpace(c.cfg.Token))
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, connectors.Permanent("httpapi: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors and timeouts are transient.
		return "", c.serverBackoff.Next(attempt), fmt.Errorf("httpapi: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if !parsed.OK {
			return "", 0, connectors.Permanent(fmt.Sprintf("httpapi: api rejected send: %s", parsed.Description), nil)
		}
		return strconv.FormatInt(parsed.Result.MessageID, 10), 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait, ok := retryAfterHint(resp, parsed); ok {
			return "", wait, &connectors.RetryAfterError{After: wait, Err: fmt.Errorf("httpapi: status 429")}
		}
		return "", c.rateBackoff.Next(attempt), fmt.Errorf("httpapi: status 429 without retry hint")
	case resp.StatusCode >= 500:
		return "", c.serverBackoff.Next(attempt), fmt.Errorf("httpapi: server error %d", resp.StatusCode)
	default:
		return "", 0, connectors.Permanent(fmt.Sprintf("httpapi: status %d: %s", resp.StatusCode, parsed.Description), nil)
	}
}

// retryAfterHint extracts the 429 wait hint from the Retry-After header or
// the response JSON.
func retryAfterHint(resp *http.Response, parsed apiResponse) (time.Duration, bool) {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second, true
		}
	}
	if parsed.Parameters.RetryAfter > 0 {
		return time.Duration(parsed.Parameters.RetryAfter) * time.Second, true
	}
	if parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter) * time.Second, true
	}
	return 0, false
}
