// Package storagetest provides a conformance suite run against every
// storage backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/extendhq/extend-mcp-server-go/storage"
)

// Item is the record type exercised by the suite.
type Item struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (i *Item) StoreKey() string  { return i.Key }
func (i *Item) Expiry() time.Time { return i.ExpiresAt }

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory builds a fresh, empty store whose expiry checks use clock.
type Factory func(t *testing.T, clock *Clock) storage.Store[*Item]

// RunStoreTests runs the complete store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Run("StoreAndGet", func(t *testing.T) { testStoreAndGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("DeleteReportsExistence", func(t *testing.T) { testDelete(t, factory) })
	t.Run("ExpiredGetDeletes", func(t *testing.T) { testExpiredGetDeletes(t, factory) })
	t.Run("LookupDistinguishesExpired", func(t *testing.T) { testLookup(t, factory) })
	t.Run("StoredAlreadyExpired", func(t *testing.T) { testStoredAlreadyExpired(t, factory) })
	t.Run("CleanupExpired", func(t *testing.T) { testCleanupExpired(t, factory) })
	t.Run("ConcurrentDeleteSingleWinner", func(t *testing.T) { testConcurrentDelete(t, factory) })
	t.Run("ConcurrentStores", func(t *testing.T) { testConcurrentStores(t, factory) })
}

func newItem(clock *Clock, key string, ttl time.Duration) *Item {
	return &Item{Key: key, Value: "value-" + key, ExpiresAt: clock.Now().Add(ttl)}
}

func testStoreAndGet(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	if err := s.Store(ctx, newItem(clock, "k1", time.Hour)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, ok, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get: record not found")
	}
	if got.Value != "value-k1" {
		t.Errorf("Value = %q, want %q", got.Value, "value-k1")
	}
	if !got.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, clock.Now().Add(time.Hour))
	}
}

func testGetMissing(t *testing.T, factory Factory) {
	s := factory(t, NewClock())
	got, ok, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || got != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, false", got, ok)
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	first := newItem(clock, "k", time.Hour)
	second := newItem(clock, "k", time.Hour)
	second.Value = "replaced"
	if err := s.Store(ctx, first); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store(ctx, second); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: %v, %v", ok, err)
	}
	if got.Value != "replaced" {
		t.Errorf("Value = %q, want replaced", got.Value)
	}
}

func testDelete(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	if err := s.Store(ctx, newItem(clock, "k", time.Hour)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	existed, err := s.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Error("first Delete reported missing record")
	}
	existed, err = s.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if existed {
		t.Error("second Delete reported existing record")
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("record still present after Delete")
	}
}

func testExpiredGetDeletes(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	if err := s.Store(ctx, newItem(clock, "k", time.Minute)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	clock.Advance(time.Minute)

	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get(expired) = %v, %v; want absent", ok, err)
	}
	existed, err := s.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if existed {
		t.Error("expired record was not removed by Get")
	}
}

func testLookup(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	if _, st, err := s.Lookup(ctx, "k"); err != nil || st != storage.Absent {
		t.Fatalf("Lookup(missing) = %v, %v; want absent", st, err)
	}
	if err := s.Store(ctx, newItem(clock, "k", time.Minute)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if rec, st, err := s.Lookup(ctx, "k"); err != nil || st != storage.Present || rec.Key != "k" {
		t.Fatalf("Lookup(live) = %v, %v, %v; want present", rec, st, err)
	}

	clock.Advance(time.Minute)
	rec, st, err := s.Lookup(ctx, "k")
	if err != nil || st != storage.Expired {
		t.Fatalf("Lookup(expired) = %v, %v; want expired", st, err)
	}
	if rec == nil || rec.Value != "value-k" {
		t.Errorf("expired lookup returned %v, want the record", rec)
	}
	if _, st, _ := s.Lookup(ctx, "k"); st != storage.Absent {
		t.Errorf("second Lookup = %v, want absent after deletion", st)
	}
}

func testStoredAlreadyExpired(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	if err := s.Store(ctx, newItem(clock, "past", -time.Second)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok, err := s.Get(ctx, "past"); err != nil || ok {
		t.Fatalf("Get(past) = %v, %v; want absent", ok, err)
	}
	if existed, _ := s.Delete(ctx, "past"); existed {
		t.Error("past record was not removed by Get")
	}
}

func testCleanupExpired(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Store(ctx, newItem(clock, fmt.Sprintf("short-%d", i), time.Minute)); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.Store(ctx, newItem(clock, fmt.Sprintf("long-%d", i), time.Hour)); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	n, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 0 {
		t.Errorf("CleanupExpired before expiry = %d, want 0", n)
	}

	clock.Advance(2 * time.Minute)
	n, err = s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 3 {
		t.Errorf("CleanupExpired = %d, want 3", n)
	}
	for i := 0; i < 2; i++ {
		if _, ok, err := s.Get(ctx, fmt.Sprintf("long-%d", i)); err != nil || !ok {
			t.Errorf("long-%d missing after cleanup: %v", i, err)
		}
	}
}

func testConcurrentDelete(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	if err := s.Store(ctx, newItem(clock, "contended", time.Hour)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			existed, err := s.Delete(ctx, "contended")
			if err != nil {
				errs <- err
				return
			}
			results <- existed
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("Delete: %v", err)
	}
	winners := 0
	for existed := range results {
		if existed {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("concurrent Delete winners = %d, want 1", winners)
	}
}

func testConcurrentStores(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, clock)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Store(ctx, newItem(clock, fmt.Sprintf("k-%d", i), time.Hour)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Store: %v", err)
	}

	// Read-modify-write backends must not lose updates.
	for i := 0; i < workers; i++ {
		if _, ok, err := s.Get(ctx, fmt.Sprintf("k-%d", i)); err != nil || !ok {
			t.Errorf("k-%d lost: ok=%v err=%v", i, ok, err)
		}
	}
}

// AssertBackendError fails the test unless err matches storage.ErrBackend.
func AssertBackendError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a backend error, got nil")
	}
	if !errors.Is(err, storage.ErrBackend) {
		t.Fatalf("error %v does not match storage.ErrBackend", err)
	}
	var se *storage.Error
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *storage.Error", err)
	}
}
