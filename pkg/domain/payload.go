package domain

import "strings"

// Event payload kinds derived from the event key prefix. The prefix is
// everything before the first ':' (e.g. "SESSION_READY:2026-02-19").
const (
	EventKindSessionReady  = "session_ready"
	EventKindDailyReminder = "daily_reminder"
	EventKindGeneric       = "generic"
)

// EventPayload is the structured value stored in the ledger's payload column.
// Known event kinds carry typed fields; anything else falls back to Extra.
type EventPayload struct {
	Kind    string  `json:"kind"`
	Date    string  `json:"date,omitempty"`
	Message string  `json:"message,omitempty"`
	Extra   JSONMap `json:"extra,omitempty"`
}

// PayloadForEvent builds the payload variant for an event key.
func PayloadForEvent(eventKey, message string) EventPayload {
	prefix, rest, _ := strings.Cut(eventKey, ":")
	payload := EventPayload{Message: message}
	switch prefix {
	case "SESSION_READY":
		payload.Kind = EventKindSessionReady
		payload.Date = rest
	case "DAILY_REMINDER":
		payload.Kind = EventKindDailyReminder
		payload.Date = rest
	default:
		payload.Kind = EventKindGeneric
		if eventKey != "" {
			payload.Extra = JSONMap{"event_key": eventKey}
		}
	}
	return payload
}

// AsMap renders the payload for the ledger's opaque column.
func (p EventPayload) AsMap() JSONMap {
	out := JSONMap{"kind": p.Kind}
	if p.Date != "" {
		out["date"] = p.Date
	}
	if p.Message != "" {
		out["message"] = p.Message
	}
	for k, v := range p.Extra {
		out[k] = v
	}
	return out
}
