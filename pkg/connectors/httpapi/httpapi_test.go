package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorumbot/notify/pkg/connectors"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
)

func newTestConnector(t *testing.T, baseURL string, maxRetries int) (*Connector, *[]time.Duration) {
	t.Helper()
	conn := New(Config{
		Enabled:        true,
		Token:          "test-token",
		BaseURL:        baseURL,
		MaxRetries:     maxRetries,
		RequestTimeout: 2 * time.Second,
	}, &logger.Nop{})
	var waits []time.Duration
	conn.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return conn, &waits
}

func TestSendSuccess(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":42}}`)
	}))
	defer srv.Close()

	conn, _ := newTestConnector(t, srv.URL, 3)
	id, err := conn.Send(context.Background(), "1001", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "42" {
		t.Fatalf("expected delivery id 42, got %q", id)
	}
	if got := path.Load().(string); !strings.Contains(got, "/bottest-token/sendMessage") {
		t.Fatalf("unexpected request path %q", got)
	}
}

func TestSendHonorsRetryAfterHint(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"ok":false,"error_code":429,"parameters":{"retry_after":3}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":7}}`)
	}))
	defer srv.Close()

	conn, waits := newTestConnector(t, srv.URL, 3)
	id, err := conn.Send(context.Background(), "1001", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "7" {
		t.Fatalf("expected delivery id 7, got %q", id)
	}
	if len(*waits) != 1 || (*waits)[0] != 3*time.Second {
		t.Fatalf("expected one 3s wait, got %v", *waits)
	}
}

func TestSendClientErrorDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"bot was blocked by the user"}`)
	}))
	defer srv.Close()

	conn, _ := newTestConnector(t, srv.URL, 3)
	_, err := conn.Send(context.Background(), "1001", "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !connectors.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 request, got %d", got)
	}
}

func TestSendServerErrorExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	conn, waits := newTestConnector(t, srv.URL, 2)
	_, err := conn.Send(context.Background(), "1001", "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if connectors.IsPermanent(err) {
		t.Fatalf("server errors are transient, got permanent: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
	if len(*waits) != 1 {
		t.Fatalf("expected 1 backoff wait, got %v", *waits)
	}
}

func TestSendDisabled(t *testing.T) {
	conn := New(Config{Enabled: false, Token: "x"}, &logger.Nop{})
	_, err := conn.Send(context.Background(), "1001", "hello")
	if !errors.Is(err, connectors.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	conn = New(Config{Enabled: true, Token: ""}, &logger.Nop{})
	_, err = conn.Send(context.Background(), "1001", "hello")
	if !errors.Is(err, connectors.ErrDisabled) {
		t.Fatalf("expected ErrDisabled without token, got %v", err)
	}
}

func TestSendRejectsEmptyTarget(t *testing.T) {
	conn, _ := newTestConnector(t, "http://127.0.0.1:0", 1)
	_, err := conn.Send(context.Background(), "  ", "hello")
	if !connectors.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
