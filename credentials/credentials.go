// Package credentials seals the downstream API credentials that are carried
// inside authorization codes and bearer tokens while they sit in a store.
//
// A Cipher never fails to open: values that cannot be decoded are returned
// unchanged so rows written before sealing was introduced stay readable.
package credentials

// Cipher seals and opens credential strings for storage at rest.
type Cipher interface {
	// Seal returns the at-rest representation of plaintext.
	Seal(plaintext string) (string, error)
	// Open reverses Seal. Values it cannot open are returned as-is.
	Open(sealed string) string
}
