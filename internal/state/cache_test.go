package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

// failingStore returns ErrUnavailable from every call.
type failingStore struct{ Store }

func (failingStore) Save(context.Context, *ConversationState) (*ConversationState, error) {
	return nil, unavailable("save", errors.New("disk full"))
}

func (failingStore) Close() error { return nil }

func testCachedStore(t *testing.T) *CachedStore {
	t.Helper()
	c, err := NewCachedStore(testStore(t, 0), 100, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCachedStore: %v", err)
	}
	return c
}

func TestCachedStore_SaveThenLoad(t *testing.T) {
	c := testCachedStore(t)
	ctx := context.Background()

	if _, err := c.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := c.Load(ctx, "thread_blaq01")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Version != 1 || got.Username != "Blaq" {
		t.Errorf("Load() = %+v", got)
	}

	// Mutating a loaded state must not leak into the next Load.
	got.Username = "mutated"
	got.Messages[0].Content = "mutated"

	again, err := c.Load(ctx, "thread_blaq01")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if again.Username != "Blaq" || again.Messages[0].Content != "I earn 750000" {
		t.Errorf("cached state was mutated through a returned copy: %+v", again)
	}
}

func TestCachedStore_FreshStateNotCached(t *testing.T) {
	c := testCachedStore(t)
	ctx := context.Background()

	st, err := c.Load(ctx, "thread_new01")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st.Version != 0 {
		t.Errorf("Version = %d, want 0", st.Version)
	}
	st.Username = "Ghost"

	again, _ := c.Load(ctx, "thread_new01")
	if again.Username != "" {
		t.Errorf("fresh state leaked through cache: %+v", again)
	}
}

func TestCachedStore_SaveErrorPropagates(t *testing.T) {
	c, err := NewCachedStore(failingStore{}, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCachedStore: %v", err)
	}
	defer c.Close()

	if _, err := c.Save(context.Background(), sampleState()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCachedStore_LoadSaveLoadOnPersistedThread(t *testing.T) {
	inner := testStore(t, 0)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for i := range 50 {
		threadID := fmt.Sprintf("thread_race%02d", i)
		seed := New(threadID)
		seed.Username = "Before"
		if _, err := inner.Save(ctx, seed); err != nil {
			t.Fatalf("seed Save() error: %v", err)
		}

		// A new cache has never seen the thread, so the first Load
		// reads the store and caches version 1.
		c, err := NewCachedStore(inner, 100, logger)
		if err != nil {
			t.Fatalf("NewCachedStore: %v", err)
		}

		st, err := c.Load(ctx, threadID)
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		st.Username = "After"
		if _, err := c.Save(ctx, st); err != nil {
			t.Fatalf("Save() error: %v", err)
		}

		got, err := c.Load(ctx, threadID)
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		c.cache.Close()
		if got.Version != 2 || got.Username != "After" {
			t.Fatalf("iteration %d: Load() after Save = version %d username %q, want 2 %q",
				i, got.Version, got.Username, "After")
		}
	}
}

func TestCachedStore_OlderVersionDoesNotReplaceNewer(t *testing.T) {
	c := testCachedStore(t)
	ctx := context.Background()

	v1, err := c.Save(ctx, sampleState())
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	next := v1.Clone()
	next.Username = "Newer"
	if _, err := c.Save(ctx, next); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// A reader that loaded version 1 from the store before the second
	// save lands late.
	c.put(v1)

	got, err := c.Load(ctx, "thread_blaq01")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Version != 2 || got.Username != "Newer" {
		t.Errorf("Load() = version %d username %q, want 2 %q", got.Version, got.Username, "Newer")
	}
}
