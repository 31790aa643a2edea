package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	aeadPrefix = "v1."
	hkdfInfo   = "extend-mcp credentials v1"
)

// ErrEmptySecret is returned when an AEAD cipher is built without a secret.
var ErrEmptySecret = errors.New("credentials: secret must not be empty")

// AEAD seals credentials with XChaCha20-Poly1305 under a key derived from a
// deployment secret. Sealed values carry a "v1." prefix.
type AEAD struct {
	key      []byte
	fallback Cipher
}

var _ Cipher = (*AEAD)(nil)

// AEADOption configures an AEAD cipher.
type AEADOption func(*AEAD)

// WithFallback sets the cipher consulted by Open for values that do not
// carry the AEAD prefix, e.g. rows sealed by the legacy XOR obfuscator.
func WithFallback(c Cipher) AEADOption {
	return func(a *AEAD) { a.fallback = c }
}

// NewAEAD derives a 256-bit key from secret with HKDF-SHA256.
func NewAEAD(secret string, opts ...AEADOption) (*AEAD, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	a := &AEAD{key: key}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewRandomAEAD returns a cipher keyed by a random secret. Values it seals
// cannot be opened by any other process.
func NewRandomAEAD(opts ...AEADOption) (*AEAD, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return NewAEAD(base64.RawStdEncoding.EncodeToString(b), opts...)
}

// Seal implements Cipher.
func (a *AEAD) Seal(plaintext string) (string, error) {
	c, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, c.NonceSize(), c.NonceSize()+len(plaintext)+c.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := c.Seal(nonce, nonce, []byte(plaintext), nil)
	return aeadPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open implements Cipher.
func (a *AEAD) Open(sealed string) string {
	rest, ok := strings.CutPrefix(sealed, aeadPrefix)
	if !ok {
		if a.fallback != nil {
			return a.fallback.Open(sealed)
		}
		return sealed
	}
	raw, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return sealed
	}
	c, err := chacha20poly1305.NewX(a.key)
	if err != nil || len(raw) < c.NonceSize() {
		return sealed
	}
	pt, err := c.Open(nil, raw[:c.NonceSize()], raw[c.NonceSize():], nil)
	if err != nil {
		return sealed
	}
	return string(pt)
}
