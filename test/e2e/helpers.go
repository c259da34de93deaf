package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldwork/fieldsync/internal/api"
	"github.com/fieldwork/fieldsync/internal/backend"
	"github.com/fieldwork/fieldsync/internal/cache"
	"github.com/fieldwork/fieldsync/internal/dispatch"
	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/netmon"
	"github.com/fieldwork/fieldsync/internal/queue"
	"github.com/fieldwork/fieldsync/internal/reconcile"
	"github.com/fieldwork/fieldsync/internal/tiles"
	"github.com/fieldwork/fieldsync/internal/types"
	"github.com/fieldwork/fieldsync/internal/worker"
)

// --- Fake Backend ---

// fakeBackend serves the backing API. While down, every connection is
// dropped without a response so probes see a transport failure.
type fakeBackend struct {
	srv  *httptest.Server
	down atomic.Bool

	mu          sync.Mutex
	tasks       int
	submissions []receivedSubmission
}

type receivedSubmission struct {
	Path           string
	IdempotencyKey string
	Fields         map[string]string
}

func newFakeBackend(t *testing.T, tasks int) *fakeBackend {
	t.Helper()
	b := &fakeBackend{tasks: tasks}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	if b.down.Load() {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	switch {
	case r.URL.Path == "/api/v1/health":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/v1/tasks":
		b.listTasks(w, r)
	case strings.HasPrefix(r.URL.Path, "/tiles/"):
		w.Write([]byte("\x89PNG"))
	case r.Method == http.MethodPost:
		b.receive(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *fakeBackend) listTasks(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	b.mu.Lock()
	total := b.tasks
	b.mu.Unlock()

	data := []types.Task{}
	for i := (page - 1) * size; i < page*size && i < total; i++ {
		data = append(data, types.Task{ID: fmt.Sprintf("task-%02d", i), Title: "survey", Status: "open"})
	}
	json.NewEncoder(w).Encode(types.PageResponse[types.Task]{
		Data:      data,
		Page:      page,
		PageSize:  size,
		PageCount: types.ComputePageCount(total, size),
		Total:     total,
	})
}

func (b *fakeBackend) receive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, `{"message":"bad form"}`, http.StatusBadRequest)
		return
	}
	fields := make(map[string]string)
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}

	b.mu.Lock()
	b.submissions = append(b.submissions, receivedSubmission{
		Path:           r.URL.Path,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Fields:         fields,
	})
	b.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]string{"message": "saved"})
}

func (b *fakeBackend) received() []receivedSubmission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]receivedSubmission(nil), b.submissions...)
}

// --- In-Process Agent ---

// agent is the full fieldsync stack on a temporary SQLite file, served
// over a real HTTP listener.
type agent struct {
	srv        *httptest.Server
	queue      *queue.Store
	monitor    *netmon.Monitor
	registry   *reconcile.Registry
	dispatcher *dispatch.Dispatcher
}

func startAgent(t *testing.T, backendURL string) *agent {
	t.Helper()
	dir := t.TempDir()

	store, err := kv.NewSQLiteStore(filepath.Join(dir, "fieldsync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	client := backend.New(backendURL, backend.WithTimeout(2*time.Second))
	prober := netmon.NewHTTPProber(backendURL, "/api/v1/health", 250*time.Millisecond)
	monitor := netmon.NewMonitor(prober, 20*time.Millisecond)
	q := queue.New(store)
	meta := cache.NewMeta(store)
	drainer := worker.NewDrainer(q, client, meta, time.Millisecond)
	dispatcher := dispatch.New(prober, q, drainer)
	registry := reconcile.NewRegistry(client, store, meta, monitor.Online)
	tileCache := tiles.NewManager(filepath.Join(dir, "tiles"),
		tiles.NewHTTPSource(backendURL+"/tiles/{z}/{x}/{y}.png", time.Second),
		tiles.Options{BatchPause: time.Millisecond, RetryBackoff: time.Millisecond})

	h := api.NewHandler(api.Deps{
		Queue:      q,
		Dispatcher: dispatcher,
		Sender: func(typ types.SubmissionType) dispatch.SendFunc {
			return dispatch.BackendSender(client, typ)
		},
		Drainer:    drainer,
		Resources:  registry,
		Tiles:      tileCache,
		Storage:    store,
		Monitor:    monitor,
		Meta:       meta,
		ClearCache: func(ctx context.Context) error { return cache.ClearAll(ctx, store) },
		Zooms:      []int{1},
		Version:    "e2e",
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		worker.NewAutoSync(drainer, monitor, 0).Run(ctx)
	}()

	a := &agent{
		srv:        httptest.NewServer(api.NewRouter(h)),
		queue:      q,
		monitor:    monitor,
		registry:   registry,
		dispatcher: dispatcher,
	}
	t.Cleanup(func() {
		a.srv.Close()
		cancel()
		wg.Wait()
		registry.Wait()
		dispatcher.Wait()
		store.Close()
	})
	return a
}

// --- Request Helpers ---

func (a *agent) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func getJSON[T any](t *testing.T, a *agent, path string) T {
	t.Helper()
	status, data := a.do(t, http.MethodGet, path, nil)
	if status != http.StatusOK {
		t.Fatalf("GET %s: status %d: %s", path, status, data)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("GET %s: decode %s: %v", path, data, err)
	}
	return v
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
