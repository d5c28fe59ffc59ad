package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the required length of an explicit encryption key (AES-256).
const KeySize = 32

// Key derivation parameters for the client-secret fallback.
const (
	derivationIterations = 10000
	derivationSalt       = "cruds-token-state"
)

// deriveKey stretches the client secret into an AES-256 key. Deterministic
// derivation from the secret is weaker than an explicit random key; callers
// are warned at construction time.
func deriveKey(clientSecret string) []byte {
	return pbkdf2.Key([]byte(clientSecret), []byte(derivationSalt), derivationIterations, KeySize, sha256.New)
}

// encryptedStore holds the current Token as an AES-256-GCM ciphertext in
// memory. Plaintext token material exists only inside the read and write
// critical sections. Safe for concurrent use.
type encryptedStore struct {
	aead cipher.AEAD

	mu         sync.Mutex
	ciphertext []byte
}

// newEncryptedStore builds a store around the given 32-byte key. The key is
// immutable for the store's lifetime and is never logged or serialized.
func newEncryptedStore(key []byte) (*encryptedStore, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &encryptedStore{aead: aead}, nil
}

// Write serializes and encrypts the token, replacing the prior state
// entirely. Each write uses a fresh random nonce.
func (s *encryptedStore) Write(token Token) error {
	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("serializing token: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	s.mu.Lock()
	s.ciphertext = sealed
	s.mu.Unlock()

	return nil
}

// Read decrypts and deserializes the stored token. The second return value
// is false when the store is empty. A ciphertext that cannot be opened with
// the configured key fails with DecryptionError.
func (s *encryptedStore) Read() (Token, bool, error) {
	s.mu.Lock()
	sealed := s.ciphertext
	s.mu.Unlock()

	if sealed == nil {
		return Token{}, false, nil
	}
	if len(sealed) < s.aead.NonceSize() {
		return Token{}, false, &DecryptionError{err: fmt.Errorf("ciphertext shorter than nonce")}
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Token{}, false, &DecryptionError{err: err}
	}

	var token Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return Token{}, false, &DecryptionError{err: err}
	}
	return token, true, nil
}

// IsExpired reports whether the stored token needs renewal, applying the
// safety skew. An empty store counts as expired.
func (s *encryptedStore) IsExpired(skew time.Duration) (bool, error) {
	token, ok, err := s.Read()
	if err != nil {
		return true, err
	}
	if !ok {
		return true, nil
	}
	return token.expired(skew, time.Now()), nil
}

// Clear discards the stored state.
func (s *encryptedStore) Clear() {
	s.mu.Lock()
	s.ciphertext = nil
	s.mu.Unlock()
}
