// Package credentials stores connector secrets (bot tokens, gateway
// accounts) encrypted at rest with XChaCha20-Poly1305.
package credentials

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNotFound is returned when no credential exists under a name.
var ErrNotFound = errors.New("credentials: not found")

// Backend persists opaque cipher/nonce pairs keyed by credential name.
type Backend interface {
	Save(ctx context.Context, name string, cipher, nonce []byte) error
	Load(ctx context.Context, name string) (cipher, nonce []byte, err error)
	Delete(ctx context.Context, name string) error
}

// Store is the plaintext-facing credential API.
type Store interface {
	Put(ctx context.Context, name string, value []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

type cipherSuite interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// EncryptedStore encrypts values before handing them to the backend. The key
// never reaches the backend, so a leaked database does not leak tokens.
type EncryptedStore struct {
	backend Backend
	aead    cipherSuite
}

// NewEncryptedStore builds a store over the backend with a 32-byte key.
func NewEncryptedStore(backend Backend, key []byte) (*EncryptedStore, error) {
	if backend == nil {
		return nil, errors.New("credentials: backend is required")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credentials: key must be %d bytes", chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &EncryptedStore{backend: backend, aead: aead}, nil
}

func (s *EncryptedStore) Put(ctx context.Context, name string, value []byte) error {
	if name == "" {
		return errors.New("credentials: name is required")
	}
	if len(value) == 0 {
		return errors.New("credentials: value is required")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("credentials: nonce: %w", err)
	}
	cipher := s.aead.Seal(nil, nonce, value, []byte(name))
	return s.backend.Save(ctx, name, cipher, nonce)
}

func (s *EncryptedStore) Get(ctx context.Context, name string) ([]byte, error) {
	cipher, nonce, err := s.backend.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	plain, err := s.aead.Open(nil, nonce, cipher, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("credentials: decrypt %q: %w", name, err)
	}
	return plain, nil
}

func (s *EncryptedStore) Delete(ctx context.Context, name string) error {
	return s.backend.Delete(ctx, name)
}

// MemoryBackend keeps cipher material in process memory, for tests and
// single-run tooling.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	cipher []byte
	nonce  []byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

func (b *MemoryBackend) Save(_ context.Context, name string, cipher, nonce []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[name] = memoryEntry{
		cipher: append([]byte(nil), cipher...),
		nonce:  append([]byte(nil), nonce...),
	}
	return nil
}

func (b *MemoryBackend) Load(_ context.Context, name string) ([]byte, []byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[name]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return append([]byte(nil), entry.cipher...), append([]byte(nil), entry.nonce...), nil
}

func (b *MemoryBackend) Delete(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, name)
	return nil
}

var (
	_ Store   = (*EncryptedStore)(nil)
	_ Backend = (*MemoryBackend)(nil)
)
