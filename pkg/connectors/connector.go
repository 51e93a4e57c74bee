package connectors

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Connector is implemented by transport adapters (bot runtime DM, HTTP Bot
// API, Signal gateway). Send returns a transport-assigned delivery id after
// exhausting the connector's local retry budget.
type Connector interface {
	Name() string
	ChannelType() string
	Enabled() bool
	Send(ctx context.Context, target, text string) (deliveryID string, err error)
}

// Broadcaster is implemented by connectors that can also deliver to a
// channel/group target, used for announce messages.
type Broadcaster interface {
	Broadcast(ctx context.Context, channelID int64, text string) (deliveryID string, err error)
}

// Registry stores available connectors keyed by channel type.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[string]Connector
}

// NewRegistry builds a registry with the supplied connectors.
func NewRegistry(conns ...Connector) *Registry {
	reg := &Registry{byChannel: make(map[string]Connector)}
	for _, c := range conns {
		reg.Register(c)
	}
	return reg
}

// Register adds a connector, indexing it by its channel type. A later
// registration for the same channel replaces the earlier one.
func (r *Registry) Register(c Connector) {
	if r == nil || c == nil {
		return
	}
	key := normalizeKey(c.ChannelType())
	if key == "" {
		return
	}
	r.mu.Lock()
	r.byChannel[key] = c
	r.mu.Unlock()
}

// Get returns the connector registered for a channel type.
func (r *Registry) Get(channelType string) (Connector, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byChannel[normalizeKey(channelType)]
	return c, ok
}

// Usable reports whether a channel type has a registered, enabled connector.
func (r *Registry) Usable(channelType string) bool {
	c, ok := r.Get(channelType)
	return ok && c.Enabled()
}

// Describe returns a human-readable summary of the registry entries.
func (r *Registry) Describe() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byChannel))
	for channel, c := range r.byChannel {
		state := "disabled"
		if c.Enabled() {
			state = "enabled"
		}
		out = append(out, fmt.Sprintf("%s: %s (%s)", channel, c.Name(), state))
	}
	return out
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
