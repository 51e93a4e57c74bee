package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecordMeta captures identifiers and audit fields shared across entities.
type RecordMeta struct {
	ID        uuid.UUID `bun:",pk,type:uuid" json:"id"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt time.Time `bun:",soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureID assigns a UUID when the struct is about to be persisted.
func (m *RecordMeta) EnsureID() {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
}

// JSONMap persists arbitrary metadata fields as JSON.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if m == nil {
		return errors.New("JSONMap: Scan on nil pointer")
	}
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("JSONMap: unsupported type %T", value)
	}
}

// Channel type identifiers. ChannelDM is the resident bot runtime; the other
// two require an explicit verified link before they participate in fan-out.
const (
	ChannelDM       = "dm"
	ChannelTelegram = "telegram"
	ChannelSignal   = "signal"
)

// KnownChannels returns every channel type in deterministic dispatch order.
func KnownChannels() []string {
	return []string{ChannelDM, ChannelTelegram, ChannelSignal}
}

// IsLinkableChannel reports whether the channel binds external identities via
// the token flow. The DM channel addresses recipients by their internal id.
func IsLinkableChannel(channelType string) bool {
	return channelType == ChannelTelegram || channelType == ChannelSignal
}

// BroadcastKey maps a channel/group id onto the negative pseudo-identity used
// to key broadcast sends in the ledger. Recipient ids are positive, so a
// broadcast to group 77 and a DM to recipient 77 occupy distinct rows.
func BroadcastKey(channelID int64) int64 {
	if channelID > 0 {
		return -channelID
	}
	return channelID
}

// LedgerEntry records the outcome of one (recipient, event, channel) send
// attempt. Exactly one row exists per key; a non-empty DeliveryID marks
// terminal success and is never overwritten. Rows are never deleted, they are
// the audit trail.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:notifications_ledger"`
	RecordMeta

	RecipientID int64     `bun:",notnull,unique:ledger_key" json:"recipient_id"`
	EventKey    string    `bun:",notnull,unique:ledger_key" json:"event_key"`
	ChannelType string    `bun:",notnull,unique:ledger_key" json:"channel_type"`
	SentAt      time.Time `bun:",nullzero" json:"sent_at,omitempty"`
	DeliveryID  string    `bun:",nullzero" json:"delivery_id,omitempty"`
	LastError   string    `bun:",nullzero" json:"last_error,omitempty"`
	RetryCount  int       `bun:",notnull,default:0" json:"retry_count"`
	Payload     JSONMap   `bun:"type:jsonb,nullzero" json:"payload,omitempty"`
}

// Delivered reports whether the entry reached terminal success.
func (e *LedgerEntry) Delivered() bool {
	return e != nil && e.DeliveryID != ""
}

// ChannelLink binds an external identity (chat id, phone number) to an
// internal recipient. At most one outstanding token exists per
// (recipient, channel); re-issuing overwrites the pending one.
type ChannelLink struct {
	bun.BaseModel `bun:"table:channel_links"`
	RecordMeta

	RecipientID    int64     `bun:",notnull,unique:channel_link_key" json:"recipient_id"`
	ChannelType    string    `bun:",notnull,unique:channel_link_key" json:"channel_type"`
	Destination    string    `bun:",nullzero" json:"destination,omitempty"`
	TokenHash      string    `bun:",nullzero" json:"-"`
	TokenExpiresAt time.Time `bun:",nullzero" json:"token_expires_at,omitempty"`
	VerifiedAt     time.Time `bun:",nullzero" json:"verified_at,omitempty"`
}

// Verified reports whether the link completed the token round-trip.
func (l *ChannelLink) Verified() bool {
	return l != nil && !l.VerifiedAt.IsZero()
}

// Subscription stores per-recipient, per-channel enablement and address.
// The DM channel is default-enabled even without a row; other channels need an
// explicit enabled row with a bound address.
type Subscription struct {
	bun.BaseModel `bun:"table:subscriptions"`
	RecordMeta

	RecipientID    int64       `bun:",notnull,unique:subscription_key" json:"recipient_id"`
	ChannelType    string      `bun:",notnull,unique:subscription_key" json:"channel_type"`
	ChannelAddress string      `bun:",nullzero" json:"channel_address,omitempty"`
	Enabled        bool        `bun:",notnull,default:false" json:"enabled"`
	Preferences    Preferences `bun:"type:jsonb,nullzero" json:"preferences,omitempty"`
}

// Preferences holds the per-subscription delivery knobs with a statically
// known shape, plus an untyped escape hatch for open-ended metadata.
type Preferences struct {
	Silent bool    `json:"silent,omitempty"`
	Locale string  `json:"locale,omitempty"`
	Extra  JSONMap `json:"extra,omitempty"`
}

// IsZero reports whether any preference is set.
func (p Preferences) IsZero() bool {
	return !p.Silent && p.Locale == "" && len(p.Extra) == 0
}

func (p Preferences) Value() (driver.Value, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}

func (p *Preferences) Scan(value any) error {
	if p == nil {
		return errors.New("Preferences: Scan on nil pointer")
	}
	switch v := value.(type) {
	case nil:
		*p = Preferences{}
		return nil
	case []byte:
		if len(v) == 0 {
			*p = Preferences{}
			return nil
		}
		return json.Unmarshal(v, p)
	case string:
		if v == "" {
			*p = Preferences{}
			return nil
		}
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("Preferences: unsupported type %T", value)
	}
}
