package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/types"
)

func payload(treeID string) types.Payload {
	return types.Payload{
		types.StringField("tree_id", treeID),
		types.StringField("status", "healthy"),
	}
}

func TestStore_ListEmptyWhenNothingPersisted(t *testing.T) {
	s := New(kv.NewMemory())

	items := s.List(context.Background())
	if items == nil || len(items) != 0 {
		t.Errorf("List() = %v, want empty non-nil slice", items)
	}
}

func TestStore_EnqueuePreservesInsertionOrder(t *testing.T) {
	s := New(kv.NewMemory())
	ctx := context.Background()

	var ids []string
	for _, tree := range []string{"t-1", "t-2", "t-3", "t-4"} {
		id, err := s.Enqueue(ctx, types.SubmissionValidate, "/api/v1/trees/validate", payload(tree))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		ids = append(ids, id)
	}

	items := s.List(ctx)
	if len(items) != len(ids) {
		t.Fatalf("List() len = %d, want %d", len(items), len(ids))
	}
	for i, item := range items {
		if item.ID != ids[i] {
			t.Errorf("items[%d].ID = %s, want %s", i, item.ID, ids[i])
		}
		if item.RetryCount != 0 {
			t.Errorf("items[%d].RetryCount = %d, want 0", i, item.RetryCount)
		}
		if item.IdempotencyKey == "" {
			t.Errorf("items[%d] has no idempotency key", i)
		}
	}
}

func TestStore_IDsAreUnique(t *testing.T) {
	s := New(kv.NewMemory())
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := s.Enqueue(ctx, types.SubmissionIncident, "/api/v1/incidents", payload("t"))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestStore_EnqueueWithKeyKeepsCallerKey(t *testing.T) {
	s := New(kv.NewMemory())
	ctx := context.Background()

	id, err := s.EnqueueWithKey(ctx, types.SubmissionRegister, "/api/v1/trees/register", payload("t"), "key-123")
	if err != nil {
		t.Fatalf("EnqueueWithKey() error = %v", err)
	}

	item, ok := s.Get(ctx, id)
	if !ok {
		t.Fatal("Get() did not find enqueued item")
	}
	if item.IdempotencyKey != "key-123" {
		t.Errorf("IdempotencyKey = %q, want key-123", item.IdempotencyKey)
	}
}

func TestStore_EnqueueStorageFailure(t *testing.T) {
	mem := kv.NewMemory()
	mem.SetErr = errors.New("disk full")
	s := New(mem)

	id, err := s.Enqueue(context.Background(), types.SubmissionRegister, "/x", payload("t"))
	if !errors.Is(err, kv.ErrStorage) {
		t.Fatalf("Enqueue() error = %v, want ErrStorage", err)
	}
	if id != "" {
		t.Errorf("Enqueue() id = %q, want empty on failure", id)
	}
}

func TestStore_ListSwallowsReadErrors(t *testing.T) {
	mem := kv.NewMemory()
	_ = mem.Set(context.Background(), Key, "{not json")
	s := New(mem)

	if items := s.List(context.Background()); len(items) != 0 {
		t.Errorf("List() on corrupt state = %v, want empty", items)
	}

	mem.GetErr = errors.New("io error")
	if items := s.List(context.Background()); len(items) != 0 {
		t.Errorf("List() on read error = %v, want empty", items)
	}
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s := New(kv.NewMemory())
	ctx := context.Background()

	first, _ := s.Enqueue(ctx, types.SubmissionValidate, "/v", payload("t-1"))
	second, _ := s.Enqueue(ctx, types.SubmissionValidate, "/v", payload("t-2"))

	if err := s.Remove(ctx, first); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(ctx, first); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if err := s.Remove(ctx, "does-not-exist"); err != nil {
		t.Fatalf("Remove(unknown) error = %v", err)
	}

	items := s.List(ctx)
	if len(items) != 1 || items[0].ID != second {
		t.Errorf("List() after remove = %+v", items)
	}
}

func TestStore_UpdateRetryCount(t *testing.T) {
	s := New(kv.NewMemory())
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, types.SubmissionGrowthCheck, "/g", payload("t"))
	s.UpdateRetryCount(ctx, id, 3, "server returned 503")
	s.UpdateRetryCount(ctx, "unknown", 9, "ignored")

	item, ok := s.Get(ctx, id)
	if !ok {
		t.Fatal("item missing")
	}
	if item.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", item.RetryCount)
	}
	if item.LastError != "server returned 503" {
		t.Errorf("LastError = %q", item.LastError)
	}
	if s.Len(ctx) != 1 {
		t.Errorf("Len() = %d, want 1", s.Len(ctx))
	}
}

func TestStore_UpdateRetryCountSwallowsWriteFailure(t *testing.T) {
	mem := kv.NewMemory()
	s := New(mem)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, types.SubmissionGrowthCheck, "/g", payload("t"))
	mem.SetErr = errors.New("read-only filesystem")

	// Must not panic or block.
	s.UpdateRetryCount(ctx, id, 1, "boom")

	mem.SetErr = nil
	item, _ := s.Get(ctx, id)
	if item.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want unchanged 0", item.RetryCount)
	}
}

func TestStore_Clear(t *testing.T) {
	s := New(kv.NewMemory())
	ctx := context.Background()

	_, _ = s.Enqueue(ctx, types.SubmissionIncident, "/i", payload("t"))
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n := s.Len(ctx); n != 0 {
		t.Errorf("Len() after Clear = %d", n)
	}
}

func TestStore_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.db")
	ctx := context.Background()

	db, err := kv.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	photo := types.FileRef{URI: "/photos/a.jpg", MimeType: "image/jpeg", FileName: "a.jpg"}
	id, err := New(db).Enqueue(ctx, types.SubmissionRegister, "/api/v1/trees/register", types.Payload{
		types.StringField("species_id", "sp-1"),
		types.FileField("photo", photo),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	db.Close()

	db, err = kv.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	items := New(db).List(ctx)
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("List() after restart = %+v", items)
	}
	f, ok := items[0].Payload.Get("photo")
	if !ok || f.File == nil || *f.File != photo {
		t.Errorf("photo after restart = %+v", f)
	}
}

func TestStore_ConcurrentEnqueueAcrossStoresKeepsEverySubmission(t *testing.T) {
	// Given: two stores on the same database file, as with `fieldsync serve`
	// and a one-shot `fieldsync submit`
	path := filepath.Join(t.TempDir(), "fieldsync.db")
	ctx := context.Background()
	var stores []*Store
	for i := 0; i < 2; i++ {
		db, err := kv.NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })
		stores = append(stores, New(db))
	}

	// When: both enqueue concurrently
	const perStore = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*perStore)
	for _, s := range stores {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(s *Store) {
				defer wg.Done()
				if _, err := s.Enqueue(ctx, types.SubmissionValidate, "/v", payload("t")); err != nil {
					errs <- err
				}
			}(s)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// Then: every acknowledged submission is in the queue
	if n := stores[0].Len(ctx); n != 2*perStore {
		t.Errorf("Len() = %d, want %d", n, 2*perStore)
	}
}

func TestStore_RemoveAndRetryUpdateDoNotClobberConcurrentEnqueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.db")
	ctx := context.Background()
	open := func() *Store {
		db, err := kv.NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return New(db)
	}
	agent, cli := open(), open()

	var seeded []string
	for i := 0; i < 20; i++ {
		id, err := agent.Enqueue(ctx, types.SubmissionValidate, "/v", payload("t"))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		seeded = append(seeded, id)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i, id := range seeded {
			if i%2 == 0 {
				_ = agent.Remove(ctx, id)
			} else {
				agent.UpdateRetryCount(ctx, id, 1, "timeout")
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := cli.Enqueue(ctx, types.SubmissionIncident, "/i", payload("t")); err != nil {
				t.Errorf("Enqueue() error = %v", err)
			}
		}
	}()
	wg.Wait()

	items := cli.List(ctx)
	if len(items) != 30 {
		t.Fatalf("Len() = %d, want 10 surviving seeds + 20 new", len(items))
	}
	for _, item := range items {
		if item.Type == types.SubmissionValidate && item.RetryCount != 1 {
			t.Errorf("item %s RetryCount = %d, want 1", item.ID, item.RetryCount)
		}
	}
}
