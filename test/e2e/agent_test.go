package e2e

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/fieldwork/fieldsync/internal/types"
)

// TestAgent_OfflineSubmitThenReconnect walks the core offline story: a form
// submitted while the backend is down is queued, and the reconnect drains it
// with the same idempotency key.
func TestAgent_OfflineSubmitThenReconnect(t *testing.T) {
	// Given: the backend is down and the agent has noticed
	backend := newFakeBackend(t, 0)
	backend.down.Store(true)
	a := startAgent(t, backend.URL())
	eventually(t, 2*time.Second, "monitor to report offline", func() bool { return !a.monitor.Online() })

	// When: a validation is submitted
	status, body := a.do(t, http.MethodPost, "/api/v1/submissions/validate",
		map[string]any{"tree_id": "t-42", "status": "alive"})

	// Then: it is accepted into the queue
	if status != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202: %s", status, body)
	}
	queued := getJSON[types.QueueResponse](t, a, "/api/v1/queue")
	if queued.Total != 1 {
		t.Fatalf("queue total = %d, want 1", queued.Total)
	}

	// When: the backend comes back
	backend.down.Store(false)

	// Then: auto sync drains the queue without a manual sync
	eventually(t, 5*time.Second, "queue to drain", func() bool {
		return getJSON[types.QueueResponse](t, a, "/api/v1/queue").Total == 0
	})

	got := backend.received()
	if len(got) != 1 {
		t.Fatalf("backend received %d submissions, want 1", len(got))
	}
	if got[0].Path != "/api/v1/trees/validate" || got[0].Fields["tree_id"] != "t-42" {
		t.Errorf("received = %+v", got[0])
	}
	if got[0].IdempotencyKey != queued.Items[0].IdempotencyKey {
		t.Errorf("idempotency key = %q, want stored key %q", got[0].IdempotencyKey, queued.Items[0].IdempotencyKey)
	}

	st := getJSON[types.StatusResponse](t, a, "/api/v1/status")
	if st.SyncStatus == nil || st.SyncStatus.State != types.SyncSuccess || st.LastSync == nil {
		t.Errorf("status = %+v, want a successful sync recorded", st)
	}
}

func TestAgent_OnlineSubmitSendsImmediately(t *testing.T) {
	backend := newFakeBackend(t, 0)
	a := startAgent(t, backend.URL())

	status, body := a.do(t, http.MethodPost, "/api/v1/submissions/register",
		map[string]any{"species_id": "sp-7", "latitude": -1.28, "longitude": 36.82})

	if status != http.StatusOK {
		t.Fatalf("submit status = %d, want 200: %s", status, body)
	}
	got := backend.received()
	if len(got) != 1 || got[0].Fields["latitude"] != "-1.28" {
		t.Errorf("received = %+v", got)
	}
	if n := getJSON[types.HealthResponse](t, a, "/api/v1/health").QueueLength; n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

// TestAgent_PagedCacheServesOffline fetches page 1 online, lets the background
// merge complete, then reads a later page with the backend gone.
func TestAgent_PagedCacheServesOffline(t *testing.T) {
	backend := newFakeBackend(t, 25)
	a := startAgent(t, backend.URL())

	first := getJSON[types.CachedPage[types.Task]](t, a, "/api/v1/resources/tasks?page=1&page_size=10")
	if len(first.Data) != 10 || first.Total != 25 || first.PageCount != 3 {
		t.Fatalf("page 1 = %d items, total %d, pages %d", len(first.Data), first.Total, first.PageCount)
	}
	a.registry.Wait()

	backend.down.Store(true)
	eventually(t, 2*time.Second, "monitor to report offline", func() bool { return !a.monitor.Online() })

	third := getJSON[types.CachedPage[types.Task]](t, a, "/api/v1/resources/tasks?page=3&page_size=10")
	if len(third.Data) != 5 || third.Data[0].ID != "task-20" || third.Data[4].ID != "task-24" {
		t.Errorf("offline page 3 = %+v, want task-20..task-24", third.Data)
	}

	// Clearing the cache leaves nothing to serve offline.
	if status, _ := a.do(t, http.MethodDelete, "/api/v1/cache", nil); status != http.StatusNoContent {
		t.Fatalf("clear cache status = %d", status)
	}
	empty := getJSON[types.CachedPage[types.Task]](t, a, "/api/v1/resources/tasks?page=1&page_size=10")
	if len(empty.Data) != 0 || empty.Total != 0 {
		t.Errorf("after clear = %+v, want empty page", empty)
	}
}

func TestAgent_TilesAreIdempotent(t *testing.T) {
	backend := newFakeBackend(t, 0)
	a := startAgent(t, backend.URL())
	req := map[string]any{"north": 10, "south": -10, "east": 10, "west": -10}

	first := postTiles(t, a, req)
	if !first.Success || first.Downloaded != 4 {
		t.Fatalf("first run = %+v, want 4 downloaded", first)
	}
	if stats := getJSON[types.TileStats](t, a, "/api/v1/tiles"); stats.Tiles != 4 {
		t.Errorf("tile count = %d, want 4", stats.Tiles)
	}

	// Cached tiles need no network.
	backend.down.Store(true)
	second := postTiles(t, a, req)
	if !second.Success || second.Cached != 4 || second.Downloaded != 0 {
		t.Errorf("second run = %+v, want all 4 served from disk", second)
	}
}

func postTiles(t *testing.T, a *agent, req map[string]any) types.TileResult {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/v1/tiles", req)
	if status != http.StatusOK {
		t.Fatalf("tiles status = %d: %s", status, body)
	}
	var res types.TileResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode tile result: %v", err)
	}
	return res
}
