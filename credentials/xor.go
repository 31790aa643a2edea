package credentials

import (
	"encoding/base64"
	"unicode/utf8"
)

// XOR is the legacy repeating-key XOR + base64 obfuscation. It offers no
// confidentiality against anyone who knows the key and is kept only so rows
// written by older deployments can still be opened.
type XOR struct {
	key []byte
}

var _ Cipher = (*XOR)(nil)

// NewXOR returns the legacy obfuscator keyed by key.
func NewXOR(key string) *XOR {
	return &XOR{key: []byte(key)}
}

func (x *XOR) apply(in []byte) []byte {
	out := make([]byte, len(in))
	for i := range in {
		out[i] = in[i] ^ x.key[i%len(x.key)]
	}
	return out
}

// Seal implements Cipher.
func (x *XOR) Seal(plaintext string) (string, error) {
	if len(x.key) == 0 {
		return plaintext, nil
	}
	return base64.StdEncoding.EncodeToString(x.apply([]byte(plaintext))), nil
}

// Open implements Cipher.
func (x *XOR) Open(sealed string) string {
	if len(x.key) == 0 {
		return sealed
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return sealed
	}
	out := x.apply(raw)
	if !utf8.Valid(out) {
		return sealed
	}
	return string(out)
}
