package connectors

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubConnector struct {
	name    string
	channel string
	enabled bool
}

func (s stubConnector) Name() string        { return s.name }
func (s stubConnector) ChannelType() string { return s.channel }
func (s stubConnector) Enabled() bool       { return s.enabled }
func (s stubConnector) Send(context.Context, string, string) (string, error) {
	return "", nil
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(
		stubConnector{name: "a", channel: "dm", enabled: true},
		stubConnector{name: "b", channel: "telegram", enabled: false},
	)

	if c, ok := reg.Get("dm"); !ok || c.Name() != "a" {
		t.Fatalf("expected dm connector a, got %v %v", c, ok)
	}
	if c, ok := reg.Get("  TELEGRAM "); !ok || c.Name() != "b" {
		t.Fatalf("expected normalized lookup to find b, got %v %v", c, ok)
	}
	if _, ok := reg.Get("signal"); ok {
		t.Fatal("expected no signal connector")
	}

	if !reg.Usable("dm") {
		t.Fatal("dm connector should be usable")
	}
	if reg.Usable("telegram") {
		t.Fatal("disabled connector must not be usable")
	}
}

func TestRegistryReplaces(t *testing.T) {
	reg := NewRegistry(stubConnector{name: "old", channel: "dm"})
	reg.Register(stubConnector{name: "new", channel: "dm", enabled: true})
	if c, _ := reg.Get("dm"); c.Name() != "new" {
		t.Fatalf("expected replacement, got %q", c.Name())
	}
}

func TestPermanentError(t *testing.T) {
	base := errors.New("root cause")
	err := Permanent("no access", base)
	if !IsPermanent(err) {
		t.Fatal("expected IsPermanent")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected unwrap to root cause")
	}
	if IsPermanent(errors.New("plain")) {
		t.Fatal("plain errors are not permanent")
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := &RetryAfterError{After: 3 * time.Second, Err: errors.New("429")}
	wait, ok := RetryAfterOf(err)
	if !ok || wait != 3*time.Second {
		t.Fatalf("expected 3s hint, got %v %v", wait, ok)
	}
	if _, ok := RetryAfterOf(errors.New("plain")); ok {
		t.Fatal("plain errors carry no hint")
	}
}

func TestPacerPassThrough(t *testing.T) {
	p := NewPacer(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("zero-interval pacer must not block: %v", err)
		}
	}
}

func TestPacerSpacing(t *testing.T) {
	p := NewPacer(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected pacing to spread 3 sends over ~40ms, took %v", elapsed)
	}
}
