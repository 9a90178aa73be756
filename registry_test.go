package imagechat

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
)

func TestRegistry_GetOrCreate_ReferenceStable(t *testing.T) {
	registry, err := NewRegistry(&MockModelClient{}, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := registry.GetOrCreate("t1")
	b := registry.GetOrCreate("t1")
	if a != b {
		t.Error("expected the same session for repeated lookups")
	}
	if len(a.History()) != 0 || len(a.Assets()) != 0 {
		t.Error("expected a new session to be empty")
	}
	if a.TopicID() != "t1" {
		t.Errorf("expected topic t1, got %q", a.TopicID())
	}

	a.AddUserTurn("hello")
	if got := len(registry.GetOrCreate("t1").History()); got != 1 {
		t.Errorf("expected mutation to be visible through the registry, got %d turns", got)
	}

	other := registry.GetOrCreate("t2")
	if other == a {
		t.Error("expected distinct topics to get distinct sessions")
	}
	if registry.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", registry.Len())
	}
}

func TestRegistry_GetOrCreate_Concurrent(t *testing.T) {
	registry, err := NewRegistry(&MockModelClient{}, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const workers = 16
	results := make([]*Session, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = registry.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for i, s := range results {
		if s != results[0] {
			t.Fatalf("worker %d got a different session", i)
		}
	}
	if registry.Len() != 1 {
		t.Errorf("expected 1 session, got %d", registry.Len())
	}
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	registry, err := NewRegistry(&MockModelClient{},
		WithLogger(discardLogger()),
		WithMaxSessions(2),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := registry.GetOrCreate("a")
	registry.GetOrCreate("b")
	registry.GetOrCreate("a") // a is now most recent
	registry.GetOrCreate("c") // evicts b

	if _, ok := registry.Lookup("b"); ok {
		t.Error("expected b to be evicted")
	}
	if s, ok := registry.Lookup("a"); !ok || s != first {
		t.Error("expected a to stay resident")
	}
	if registry.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", registry.Len())
	}

	for i := 0; i < 10; i++ {
		registry.GetOrCreate("topic-" + strconv.Itoa(i))
	}
	if registry.Len() != 2 {
		t.Errorf("expected registry to stay bounded at 2, got %d", registry.Len())
	}
}

func TestRegistry_KeepsBusySessionResident(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client := &MockModelClient{
		GenerateStreamFunc: func(ctx context.Context, turns []Turn, config *GenerateConfig) iter.Seq2[Chunk, error] {
			return func(yield func(Chunk, error) bool) {
				if len(turns) == 1 {
					close(started)
					<-release
				}
				yield(ImageChunk{Data: jpegHeader, MIMEType: "image/jpeg"}, nil)
			}
		},
	}
	registry, err := NewRegistry(client,
		WithLogger(discardLogger()),
		WithMaxSessions(1),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir := t.TempDir()
	a := registry.GetOrCreate("a")
	done := make(chan error, 1)
	go func() {
		_, err := a.Exchange(context.Background(), "first", nil, filepath.Join(dir, "a1.jpg"))
		done <- err
	}()
	<-started

	// a is mid-generation; creating b must not evict it.
	registry.GetOrCreate("b")
	if got := registry.GetOrCreate("a"); got != a {
		t.Fatal("expected busy session a to stay resident")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if got := len(a.History()); got != 2 {
		t.Errorf("expected 2 turns on a, got %d", got)
	}

	// Idle again: the next creation trims back to the limit.
	registry.GetOrCreate("c")
	if registry.Len() != 1 {
		t.Errorf("expected registry to shrink to 1, got %d", registry.Len())
	}
	if _, ok := registry.Lookup("a"); ok {
		t.Error("expected idle session a to be evicted")
	}
}

func TestRegistry_AcquireHoldsSession(t *testing.T) {
	registry, err := NewRegistry(&MockModelClient{},
		WithLogger(discardLogger()),
		WithMaxSessions(1),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, release := registry.Acquire("a")
	if !a.Busy() {
		t.Error("expected acquired session to be busy")
	}
	registry.GetOrCreate("b")
	if got, ok := registry.Lookup("a"); !ok || got != a {
		t.Fatal("expected acquired session to stay resident")
	}
	if registry.Len() != 2 {
		t.Errorf("expected 2 sessions while a is held, got %d", registry.Len())
	}

	release()
	release()
	if a.Busy() {
		t.Error("expected release to be idempotent")
	}

	registry.GetOrCreate("c")
	if registry.Len() != 1 {
		t.Errorf("expected 1 session after release, got %d", registry.Len())
	}
}

func TestRegistry_LookupDoesNotCreate(t *testing.T) {
	registry, err := NewRegistry(&MockModelClient{}, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := registry.Lookup("missing"); ok {
		t.Error("expected lookup of unknown topic to fail")
	}
	if registry.Len() != 0 {
		t.Errorf("expected lookup not to create a session, got %d", registry.Len())
	}

	registry.GetOrCreate("t1")
	if !registry.Remove("t1") {
		t.Error("expected Remove to report an existing session")
	}
	if registry.Remove("t1") {
		t.Error("expected second Remove to report nothing removed")
	}
}

func TestRegistry_InvalidMaxSessions(t *testing.T) {
	if _, err := NewRegistry(&MockModelClient{}, WithMaxSessions(0)); err == nil {
		t.Error("expected error for zero capacity")
	}
}

func TestRegistry_Close(t *testing.T) {
	closeErr := errors.New("close failed")
	closed := false
	client := &MockModelClient{
		CloseFunc: func() error {
			closed = true
			return closeErr
		},
	}
	registry, err := NewRegistry(client, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	registry.GetOrCreate("t1")

	if err := registry.Close(); !errors.Is(err, closeErr) {
		t.Errorf("expected client close error, got %v", err)
	}
	if !closed {
		t.Error("expected client to be closed")
	}
	if registry.Len() != 0 {
		t.Errorf("expected sessions to be dropped, got %d", registry.Len())
	}
}
