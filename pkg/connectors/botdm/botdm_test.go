package botdm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quorumbot/notify/pkg/connectors"
	"github.com/quorumbot/notify/pkg/interfaces/logger"
)

type fakeSession struct {
	dmCalls      int
	channelCalls int
	errs         []error
	lastDM       int64
	lastChannel  int64
	lastText     string
}

func (f *fakeSession) SendDM(_ context.Context, recipientID int64, text string) (string, error) {
	f.dmCalls++
	f.lastDM = recipientID
	f.lastText = text
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "msg-1", nil
}

func (f *fakeSession) SendChannel(_ context.Context, channelID int64, text string) (string, error) {
	f.channelCalls++
	f.lastChannel = channelID
	f.lastText = text
	return "msg-2", nil
}

func newTestConnector(session Session) *Connector {
	conn := New(Config{Enabled: true, MaxRetries: 3}, session, &logger.Nop{})
	conn.sleep = func(context.Context, time.Duration) error { return nil }
	return conn
}

func TestSendParsesTarget(t *testing.T) {
	session := &fakeSession{}
	conn := newTestConnector(session)

	id, err := conn.Send(context.Background(), "12345", "ping")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("expected delivery id msg-1, got %q", id)
	}
	if session.lastDM != 12345 {
		t.Fatalf("expected recipient 12345, got %d", session.lastDM)
	}

	_, err = conn.Send(context.Background(), "not-a-number", "ping")
	if !connectors.IsPermanent(err) {
		t.Fatalf("expected permanent error for bad target, got %v", err)
	}
}

func TestSendRetriesFloodControl(t *testing.T) {
	session := &fakeSession{errs: []error{
		&connectors.RetryAfterError{After: time.Second, Err: errors.New("flood")},
	}}
	conn := newTestConnector(session)

	var waits []time.Duration
	conn.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	id, err := conn.Send(context.Background(), "42", "ping")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("expected delivery id msg-1, got %q", id)
	}
	if session.dmCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", session.dmCalls)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Fatalf("expected one 1s wait from flood hint, got %v", waits)
	}
}

func TestSendClosedDMsDoNotRetry(t *testing.T) {
	session := &fakeSession{errs: []error{
		connectors.Permanent("botdm: dms closed", errors.New("forbidden")),
		connectors.Permanent("botdm: dms closed", errors.New("forbidden")),
	}}
	conn := newTestConnector(session)

	_, err := conn.Send(context.Background(), "42", "ping")
	if !connectors.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if session.dmCalls != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", session.dmCalls)
	}
}

func TestSendExhaustsRetries(t *testing.T) {
	session := &fakeSession{errs: []error{
		errors.New("transient one"),
		errors.New("transient two"),
		errors.New("transient three"),
	}}
	conn := newTestConnector(session)

	_, err := conn.Send(context.Background(), "42", "ping")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if session.dmCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", session.dmCalls)
	}
}

func TestBroadcast(t *testing.T) {
	session := &fakeSession{}
	conn := newTestConnector(session)

	id, err := conn.Broadcast(context.Background(), 777, "announce")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if id != "msg-2" {
		t.Fatalf("expected delivery id msg-2, got %q", id)
	}
	if session.lastChannel != 777 {
		t.Fatalf("expected channel 777, got %d", session.lastChannel)
	}
}

func TestSendDisabled(t *testing.T) {
	conn := New(Config{Enabled: false}, &fakeSession{}, &logger.Nop{})
	_, err := conn.Send(context.Background(), "42", "ping")
	if !errors.Is(err, connectors.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	conn = New(Config{Enabled: true}, nil, &logger.Nop{})
	_, err = conn.Send(context.Background(), "42", "ping")
	if !errors.Is(err, connectors.ErrDisabled) {
		t.Fatalf("expected ErrDisabled without session, got %v", err)
	}
}
