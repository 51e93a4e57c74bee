// Package signalgw delivers messages through a Signal-style gateway, either
// by invoking the signal-cli binary or by calling a signal-cli-rest daemon.
package signalgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/quorumbot/notify/pkg/connectors"
	"github.com/quorumbot/notify/pkg/domain"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
	"github.com/quorumbot/notify/pkg/retry"
)

// Mode selects the gateway flavor.
type Mode string

const (
	ModeCLI    Mode = "cli"
	ModeDaemon Mode = "daemon"
)

// allowedCLIPaths is the fixed set of absolute locations the CLI binary may
// live at. Anything else must be a bare name resolved through PATH; arbitrary
// user-supplied paths are rejected.
var allowedCLIPaths = []string{
	"/usr/bin/signal-cli",
	"/usr/local/bin/signal-cli",
	"/opt/signal-cli/bin/signal-cli",
}

// Config holds gateway options.
type Config struct {
	Enabled        bool
	Mode           Mode
	CLIPath        string
	Account        string
	DaemonURL      string
	MinInterval    time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
}

// Connector sends through `signal-cli -u <sender> send -m <msg> <recipient>`
// or `POST /v2/send` depending on Mode.
type Connector struct {
	cfg     Config
	cliPath string
	cliErr  error
	client  *http.Client
	pacer   *connectors.Pacer
	log     logger.Logger

	rateBackoff   retry.Backoff
	serverBackoff retry.Backoff
	sleep         func(ctx context.Context, d time.Duration) error
	runCLI        func(ctx context.Context, path string, args []string) (stdout, stderr string, err error)
}

type Option func(*Connector)

// WithClient allows injecting a custom HTTP client for daemon mode.
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
	if cfg.Mode == "" {
		cfg.Mode = ModeCLI
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	conn := &Connector{
		cfg:           cfg,
		pacer:         connectors.NewPacer(cfg.MinInterval),
		log:           log,
		rateBackoff:   retry.ExponentialBackoff{Base: 2 * time.Second, Max: 30 * time.Second},
		serverBackoff: retry.ExponentialBackoff{Base: 2 * time.Second, Max: 10 * time.Second},
		sleep:         retry.Sleep,
		runCLI:        runCommand,
	}
	if cfg.Mode == ModeCLI {
		conn.cliPath, conn.cliErr = resolveCLIPath(cfg.CLIPath)
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

func (c *Connector) Name() string { return "signal-gateway" }

func (c *Connector) ChannelType() string { return domain.ChannelSignal }

// Enabled reports whether the connector is switched on with a usable sender
// account and transport endpoint.
func (c *Connector) Enabled() bool {
	if !c.cfg.Enabled || strings.TrimSpace(c.cfg.Account) == "" {
		return false
	}
	switch c.cfg.Mode {
	case ModeCLI:
		return c.cliErr == nil
	case ModeDaemon:
		return strings.TrimSpace(c.cfg.DaemonURL) != ""
	default:
		return false
	}
}

// Send delivers text to the phone number in target. CLI failures are retried
// by re-invoking the whole command; daemon 429s honor the retry hint.
func (c *Connector) Send(ctx context.Context, target, text string) (string, error) {
	if !c.Enabled() {
		if c.cfg.Mode == ModeCLI && c.cliErr != nil && c.cfg.Enabled {
			return "", fmt.Errorf("signalgw: %w", c.cliErr)
		}
		return "", connectors.ErrDisabled
	}
	recipient := strings.TrimSpace(target)
	if recipient == "" {
		return "", connectors.Permanent("signalgw: recipient required", nil)
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		var (
			id   string
			wait time.Duration
			err  error
		)
		if c.cfg.Mode == ModeDaemon {
			id, wait, err = c.sendDaemon(ctx, recipient, text, attempt)
		} else {
			id, err = c.sendCLI(ctx, recipient, text)
			wait = c.serverBackoff.Next(attempt)
		}
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
		c.log.Warn("signal send retrying",
			logger.Field{Key: "mode", Value: string(c.cfg.Mode)},
			logger.Field{Key: "attempt", Value: attempt},
			logger.Field{Key: "error", Value: err},
		)
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("signalgw: send failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Connector) sendCLI(ctx context.Context, recipient, text string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	args := []string{"-u", c.cfg.Account, "send", "-m", text, recipient}
	stdout, stderr, err := c.runCLI(reqCtx, c.cliPath, args)
	if err != nil {
		return "", fmt.Errorf("signalgw: cli exited: %w: %s", err, strings.TrimSpace(stderr))
	}
	// signal-cli prints the message timestamp on success.
	if line := firstLine(stdout); line != "" {
		return line, nil
	}
	return "ok", nil
}

func (c *Connector) sendDaemon(ctx context.Context, recipient, text string, attempt int) (string, time.Duration, error) {
	payload := map[string]any{
		"number":     c.cfg.Account,
		"recipients": []string{recipient},
		"message":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, connectors.Permanent("signalgw: encode payload", err)
	}
	endpoint := strings.TrimRight(c.cfg.DaemonURL, "/") + "/v2/send"
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, connectors.Permanent("signalgw: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", c.serverBackoff.Next(attempt), fmt.Errorf("signalgw: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed struct {
			Timestamp int64 `json:"timestamp"`
		}
		_ = json.Unmarshal(raw, &parsed)
		if parsed.Timestamp > 0 {
			return strconv.FormatInt(parsed.Timestamp, 10), 0, nil
		}
		return "ok", 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait, ok := daemonRetryHint(resp, raw); ok {
			return "", wait, &connectors.RetryAfterError{After: wait, Err: fmt.Errorf("signalgw: status 429")}
		}
		return "", c.rateBackoff.Next(attempt), fmt.Errorf("signalgw: status 429 without retry hint")
	case resp.StatusCode >= 500:
		return "", c.serverBackoff.Next(attempt), fmt.Errorf("signalgw: server error %d", resp.StatusCode)
	default:
		return "", 0, connectors.Permanent(fmt.Sprintf("signalgw: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), nil)
	}
}

func daemonRetryHint(resp *http.Response, raw []byte) (time.Duration, bool) {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second, true
		}
	}
	var parsed struct {
		RetryAfter int `json:"retry_after"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter) * time.Second, true
	}
	return 0, false
}

// resolveCLIPath restricts the binary location to the allow-list or a bare
// name looked up on PATH.
func resolveCLIPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "signal-cli"
	}
	if strings.ContainsRune(path, '/') || filepath.IsAbs(path) {
		for _, allowed := range allowedCLIPaths {
			if path == allowed {
				return path, nil
			}
		}
		return "", fmt.Errorf("cli path %q is not in the allow-list", path)
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("cli binary %q not found on PATH: %w", path, err)
	}
	return resolved, nil
}

func runCommand(ctx context.Context, path string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
