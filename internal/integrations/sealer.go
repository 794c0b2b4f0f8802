package integrations

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrUnseal is returned when a sealed token cannot be opened with the configured key.
var ErrUnseal = errors.New("integrations: cannot open sealed token")

// Sealer encrypts provider access tokens at rest.
type Sealer struct {
	key  [keySize]byte
	rand io.Reader
}

// NewSealer parses a base64 encoded 32 byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("integrations: token key is not base64: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("integrations: token key must be %d bytes, got %d", keySize, len(raw))
	}
	s := &Sealer{rand: rand.Reader}
	copy(s.key[:], raw)
	return s, nil
}

// GenerateKey returns a fresh base64 encoded key.
func GenerateKey() (string, error) {
	var k [keySize]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}

// Seal encrypts token. The nonce is prepended to the box.
func (s *Sealer) Seal(token string) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: access_token is required", ErrInvalidInput)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("integrations: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(token), &nonce, &s.key), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed []byte) (string, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrUnseal
	}
	return string(plain), nil
}
