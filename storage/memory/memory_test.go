package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/extendhq/extend-mcp-server-go/storage"
	"github.com/extendhq/extend-mcp-server-go/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.RunStoreTests(t, func(t *testing.T, clock *storagetest.Clock) storage.Store[*storagetest.Item] {
		s, err := New[*storagetest.Item](100, storage.WithClock(clock.Now))
		if err != nil {
			t.Fatalf("Failed to create memory store: %v", err)
		}
		return s
	})
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := New[*storagetest.Item](2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	for i := 0; i < 3; i++ {
		if err := s.Store(ctx, &storagetest.Item{Key: fmt.Sprintf("k%d", i), ExpiresAt: exp}); err != nil {
			t.Fatal(err)
		}
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "k0"); ok {
		t.Error("oldest record was not evicted")
	}
}

func TestMemoryStoreCloseClears(t *testing.T) {
	s, _ := New[*storagetest.Item](0)
	ctx := context.Background()
	_ = s.Store(ctx, &storagetest.Item{Key: "k", ExpiresAt: time.Now().Add(time.Hour)})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("Len after Close = %d", s.Len())
	}
}
