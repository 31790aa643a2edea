// Package storage defines the keyed, expiring record store used to persist
// authorization codes and bearer tokens. Backends live in sub-packages:
// storage/file (single JSON document, single process), storage/redis
// (managed key-value service, multi-instance safe) and storage/memory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// Record is a value that can be kept in a Store.
type Record interface {
	// StoreKey returns the primary key of the record.
	StoreKey() string
	// Expiry returns the instant after which the record is no longer valid.
	// The zero time means the record never expires.
	Expiry() time.Time
}

// Status is the outcome of a Lookup.
type Status int

const (
	// Absent means no record is stored under the key.
	Absent Status = iota
	// Present means an unexpired record was found.
	Present
	// Expired means a record was found past its expiry and has been deleted.
	Expired
)

func (s Status) String() string {
	switch s {
	case Present:
		return "present"
	case Expired:
		return "expired"
	default:
		return "absent"
	}
}

// Store is the contract shared by every backend.
//
// Neither Get nor Lookup reports an expired record as present: an expired
// hit is deleted before returning. Errors are returned only for backend
// failures and always match ErrBackend.
type Store[R Record] interface {
	// Store inserts or replaces rec under rec.StoreKey().
	Store(ctx context.Context, rec R) error
	// Get returns the record stored under key, if present and unexpired.
	Get(ctx context.Context, key string) (R, bool, error)
	// Lookup is Get that also tells an expired record apart from a missing
	// one. The expired record is returned for inspection after deletion.
	Lookup(ctx context.Context, key string) (R, Status, error)
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// CleanupExpired removes every expired record and returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)
	// Close releases resources held by the backend.
	Close() error
}

// ErrBackend matches every error produced by a failing storage backend.
var ErrBackend = errors.New("storage: backend failure")

// Error describes a failed backend operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, Redact(e.Key), e.Err)
}

// Unwrap exposes both ErrBackend and the underlying cause.
func (e *Error) Unwrap() []error { return []error{ErrBackend, e.Err} }

// GetFromLookup adapts a Lookup result to the Get signature.
func GetFromLookup[R Record](rec R, st Status, err error) (R, bool, error) {
	if err != nil || st != Present {
		var zero R
		return zero, false, err
	}
	return rec, true, nil
}

// IsExpired reports whether rec is expired at now. A record is valid only
// while now is strictly before its expiry.
func IsExpired(rec Record, now time.Time) bool {
	exp := rec.Expiry()
	return !exp.IsZero() && !now.Before(exp)
}

// NewRecord allocates an empty record for decoding. Record types are
// expected to be pointers to structs.
func NewRecord[R Record]() R {
	t := reflect.TypeFor[R]()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(R)
	}
	var zero R
	return zero
}

// Redact shortens a secret key for logs and error messages.
func Redact(key string) string {
	const keep = 8
	if len(key) <= keep {
		return key
	}
	return key[:keep] + "..."
}

// Option configures a backend.
type Option func(*Options)

// Options holds settings common to every backend.
type Options struct {
	Clock  func() time.Time
	Logger *slog.Logger
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Clock = now }
}

// WithLogger sets the logger used for backend diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// ApplyOptions resolves opts over the defaults.
func ApplyOptions(opts ...Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
