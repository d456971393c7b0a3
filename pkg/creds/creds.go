package creds

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNotFound is returned when a credential reference is unknown.
var ErrNotFound = errors.New("credential not found")

// Secret is a decrypted credential held in memory only. Its String form is
// redacted so it can never leak through logs or %v formatting.
type Secret struct {
	value string
}

// Reveal returns the plaintext. Call sites hand it straight to a transport.
func (s Secret) Reveal() string { return s.value }

func (s Secret) String() string { return "[redacted]" }

// Store resolves credential references to decrypted secrets.
type Store interface {
	Decrypt(ref string) (Secret, error)
}

// SealedStore keeps chacha20poly1305-sealed secrets keyed by reference.
// The master key comes from FLEET_CREDS_KEY (base64, 32 bytes).
type SealedStore struct {
	mu     sync.RWMutex
	key    []byte
	sealed map[string][]byte
}

// NewSealedStore reads the master key from the environment.
func NewSealedStore() (*SealedStore, error) {
	raw := os.Getenv("FLEET_CREDS_KEY")
	if raw == "" {
		return nil, fmt.Errorf("FLEET_CREDS_KEY not set")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("FLEET_CREDS_KEY must be base64 of %d bytes", chacha20poly1305.KeySize)
	}
	return NewSealedStoreWithKey(key)
}

// NewSealedStoreWithKey builds a store around an explicit master key.
func NewSealedStoreWithKey(key []byte) (*SealedStore, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &SealedStore{key: append([]byte(nil), key...), sealed: map[string][]byte{}}, nil
}

// Seal encrypts and stores a secret under ref.
func (s *SealedStore) Seal(ref, plaintext string) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	box := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	s.mu.Lock()
	s.sealed[ref] = box
	s.mu.Unlock()
	return nil
}

// Decrypt opens the sealed secret for ref. The plaintext lives only in the
// returned Secret.
func (s *SealedStore) Decrypt(ref string) (Secret, error) {
	s.mu.RLock()
	box, ok := s.sealed[ref]
	s.mu.RUnlock()
	if !ok {
		return Secret{}, ErrNotFound
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return Secret{}, err
	}
	if len(box) < aead.NonceSize() {
		return Secret{}, fmt.Errorf("sealed blob too short")
	}
	nonce, ct := box[:aead.NonceSize()], box[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return Secret{}, fmt.Errorf("open credential %s: %w", ref, err)
	}
	return Secret{value: string(pt)}, nil
}

// LoadFile seals every entry of a JSON object {ref: plaintext} from path.
// Intended for lab/dev bootstrap; production feeds the store externally.
func (s *SealedStore) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries map[string]string
	if err := json.Unmarshal(b, &entries); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for ref, pt := range entries {
		if err := s.Seal(ref, pt); err != nil {
			return err
		}
	}
	return nil
}
