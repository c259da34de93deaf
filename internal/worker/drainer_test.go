package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldwork/fieldsync/internal/cache"
	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/queue"
	"github.com/fieldwork/fieldsync/internal/types"
)

// --- Test doubles ---

// fakeSender fails submissions whose tree_id is in fail.
type fakeSender struct {
	mu       sync.Mutex
	fail     map[string]bool
	sent     []string
	keys     []string
	at       []time.Time
	inFlight int
	maxSeen  int
	hook     func(treeID string)
	panics   bool
}

func newFakeSender(failing ...string) *fakeSender {
	s := &fakeSender{fail: map[string]bool{}}
	for _, id := range failing {
		s.fail[id] = true
	}
	return s
}

func (s *fakeSender) Submit(ctx context.Context, typ types.SubmissionType, payload types.Payload, key string) (string, error) {
	f, _ := payload.Get("tree_id")
	treeID := f.String

	s.mu.Lock()
	s.sent = append(s.sent, treeID)
	s.keys = append(s.keys, key)
	s.at = append(s.at, time.Now())
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	failing := s.fail[treeID]
	hook := s.hook
	panics := s.panics
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if hook != nil {
		hook(treeID)
	}
	if panics {
		panic("transport exploded")
	}
	if failing {
		return "", errors.New("server returned 500")
	}
	return "ok", nil
}

func (s *fakeSender) sentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func enqueueValidate(t *testing.T, q *queue.Store, treeID string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), types.SubmissionValidate, "/api/v1/trees/validate", types.Payload{
		types.StringField("tree_id", treeID),
		types.StringField("status", "healthy"),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return id
}

// --- Drain ---

func TestDrain_SecondOfThreeFails(t *testing.T) {
	// Given: three queued validations, the second of which the backend rejects
	ctx := context.Background()
	store := kv.NewMemory()
	q := queue.New(store)
	enqueueValidate(t, q, "tr-1")
	failingID := enqueueValidate(t, q, "tr-2")
	enqueueValidate(t, q, "tr-3")

	meta := cache.NewMeta(store)
	d := NewDrainer(q, newFakeSender("tr-2"), meta, 0)

	// When
	res := d.Drain(ctx)

	// Then
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 succeeded, 1 failed", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "server returned 500") {
		t.Errorf("errors = %v", res.Errors)
	}

	items := q.List(ctx)
	if len(items) != 1 {
		t.Fatalf("queue length = %d, want 1", len(items))
	}
	if items[0].ID != failingID || items[0].RetryCount != 1 {
		t.Errorf("remaining item = %+v, want %s with retryCount 1", items[0], failingID)
	}
	if items[0].LastError == "" {
		t.Error("remaining item should record its last error")
	}

	st, ok := meta.Status(ctx)
	if !ok || st.State != types.SyncError {
		t.Errorf("sync status = %+v, want error", st)
	}
}

func TestDrain_PausesBetweenItemsOnly(t *testing.T) {
	// Given: three queued items and a 50ms pacing delay
	const delay = 50 * time.Millisecond
	q := queue.New(kv.NewMemory())
	for _, id := range []string{"tr-1", "tr-2", "tr-3"} {
		enqueueValidate(t, q, id)
	}
	sender := newFakeSender()
	d := NewDrainer(q, sender, nil, delay)

	// When
	start := time.Now()
	res := d.Drain(context.Background())

	// Then: the first item goes out at once, the rest are spaced by delay
	if res.Succeeded != 3 {
		t.Fatalf("result = %+v, want 3 succeeded", res)
	}
	sender.mu.Lock()
	at := append([]time.Time(nil), sender.at...)
	sender.mu.Unlock()
	if first := at[0].Sub(start); first >= delay {
		t.Errorf("first submit after %v, want no leading pause", first)
	}
	for i := 1; i < len(at); i++ {
		if gap := at[i].Sub(at[i-1]); gap < delay {
			t.Errorf("gap before item %d = %v, want >= %v", i+1, gap, delay)
		}
	}
}

func TestDrain_RetryCeilingIsExactlyFive(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory())
	id := enqueueValidate(t, q, "tr-bad")
	d := NewDrainer(q, newFakeSender("tr-bad"), nil, 0)

	for attempt := 1; attempt <= 4; attempt++ {
		d.Drain(ctx)
		item, ok := q.Get(ctx, id)
		if !ok {
			t.Fatalf("item dropped after %d attempts, want it kept until 5", attempt)
		}
		if item.RetryCount != attempt {
			t.Errorf("after attempt %d retryCount = %d", attempt, item.RetryCount)
		}
	}

	res := d.Drain(ctx)
	if _, ok := q.Get(ctx, id); ok {
		t.Fatal("item should be dropped on the fifth failure")
	}
	if res.Failed != 1 || !strings.Contains(res.Errors[0], "dropped after 5 attempts") {
		t.Errorf("fifth drain result = %+v", res)
	}
}

func TestDrain_ProcessesInInsertionOrderWithKeys(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory())
	for _, id := range []string{"a", "b", "c", "d"} {
		enqueueValidate(t, q, id)
	}
	sender := newFakeSender()
	d := NewDrainer(q, sender, nil, time.Millisecond)

	res := d.Drain(ctx)

	if res.Succeeded != 4 {
		t.Errorf("succeeded = %d, want 4", res.Succeeded)
	}
	if got := strings.Join(sender.sentIDs(), ","); got != "a,b,c,d" {
		t.Errorf("send order = %s, want a,b,c,d", got)
	}
	for i, k := range sender.keys {
		if k == "" {
			t.Errorf("replay %d sent without idempotency key", i)
		}
	}
	if sender.maxSeen != 1 {
		t.Errorf("max concurrent sends = %d, want 1", sender.maxSeen)
	}
}

func TestDrain_EmptyQueue(t *testing.T) {
	store := kv.NewMemory()
	meta := cache.NewMeta(store)
	d := NewDrainer(queue.New(store), newFakeSender(), meta, 0)

	res := d.Drain(context.Background())

	if res.Succeeded != 0 || res.Failed != 0 || res.Errors == nil {
		t.Errorf("result = %+v, want zero counts and non-nil errors", res)
	}
	if _, ok := meta.Status(context.Background()); ok {
		t.Error("empty drain should not touch sync status")
	}
}

func TestDrain_SuccessRecordsStatusAndLastSync(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	q := queue.New(store)
	enqueueValidate(t, q, "tr-1")
	meta := cache.NewMeta(store)

	NewDrainer(q, newFakeSender(), meta, 0).Drain(ctx)

	st, ok := meta.Status(ctx)
	if !ok || st.State != types.SyncSuccess {
		t.Errorf("status = %+v, want success", st)
	}
	if _, ok := meta.LastSync(ctx); !ok {
		t.Error("last sync should be recorded")
	}
}

func TestDrain_ConcurrentCallsSendEachItemOnce(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory())
	enqueueValidate(t, q, "tr-1")

	release := make(chan struct{})
	started := make(chan struct{})
	sender := newFakeSender()
	var once sync.Once
	sender.hook = func(string) {
		once.Do(func() { close(started) })
		<-release
	}
	d := NewDrainer(q, sender, nil, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); d.Drain(ctx) }()
	<-started
	go func() { defer wg.Done(); d.Drain(ctx) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := len(sender.sentIDs()); n != 1 {
		t.Errorf("item sent %d times, want 1", n)
	}
}

func TestDrain_CancellationStopsBetweenItems(t *testing.T) {
	q := queue.New(kv.NewMemory())
	for _, id := range []string{"a", "b", "c"} {
		enqueueValidate(t, q, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sender := newFakeSender()
	sender.hook = func(string) { cancel() }
	d := NewDrainer(q, sender, nil, time.Hour)

	res := d.Drain(ctx)

	if res.Succeeded != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want one replay before cancellation", res)
	}
	if q.Len(context.Background()) != 2 {
		t.Errorf("queue length = %d, want 2", q.Len(context.Background()))
	}
}

func TestDrain_PanickingSenderCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory())
	id := enqueueValidate(t, q, "tr-1")
	sender := newFakeSender()
	sender.panics = true

	res := NewDrainer(q, sender, nil, 0).Drain(ctx)

	if res.Failed != 1 || !strings.Contains(res.Errors[0], "panicked") {
		t.Errorf("result = %+v", res)
	}
	if item, ok := q.Get(ctx, id); !ok || item.RetryCount != 1 {
		t.Errorf("item = %+v, ok %v; want retryCount 1", item, ok)
	}
}
