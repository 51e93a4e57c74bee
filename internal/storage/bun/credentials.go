package bunrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/quorumbot/notify/pkg/credentials"
	"github.com/uptrace/bun"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:connector_credentials"`

	ID        int64     `bun:",pk,autoincrement"`
	Name      string    `bun:",notnull,unique"`
	Cipher    []byte    `bun:",notnull"`
	Nonce     []byte    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// CredentialBackend stores encrypted connector credentials in SQLite. Only
// cipher material lands here; the key stays with the caller.
type CredentialBackend struct {
	db *bun.DB
}

func NewCredentialBackend(db *bun.DB) *CredentialBackend {
	return &CredentialBackend{db: db}
}

func (b *CredentialBackend) Save(ctx context.Context, name string, cipher, nonce []byte) error {
	rec := &credentialRecord{
		Name:   name,
		Cipher: cipher,
		Nonce:  nonce,
	}
	_, err := b.db.NewInsert().
		Model(rec).
		On("CONFLICT (name) DO UPDATE").
		Set("cipher = EXCLUDED.cipher").
		Set("nonce = EXCLUDED.nonce").
		Set("updated_at = current_timestamp").
		Exec(ctx)
	return err
}

func (b *CredentialBackend) Load(ctx context.Context, name string) ([]byte, []byte, error) {
	var rec credentialRecord
	err := b.db.NewSelect().
		Model(&rec).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, credentials.ErrNotFound
		}
		return nil, nil, err
	}
	return rec.Cipher, rec.Nonce, nil
}

func (b *CredentialBackend) Delete(ctx context.Context, name string) error {
	_, err := b.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("name = ?", name).
		Exec(ctx)
	return err
}

var _ credentials.Backend = (*CredentialBackend)(nil)
