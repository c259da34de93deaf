//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/fieldwork/fieldsync/internal/types"
)

// These tests drive a real fieldsync binary.

func TestBinary_RequiresAgentToken(t *testing.T) {
	backend := newFakeBackend(t, 0)
	p := startAgentProcess(t, backend.URL())

	if status, _ := p.request(t, http.MethodGet, "/api/v1/health", "", nil); status != http.StatusOK {
		t.Errorf("health without token = %d, want 200", status)
	}
	if status, _ := p.request(t, http.MethodGet, "/api/v1/queue", "", nil); status != http.StatusUnauthorized {
		t.Errorf("queue without token = %d, want 401", status)
	}
	if status, _ := p.request(t, http.MethodGet, "/api/v1/queue", "wrong", nil); status != http.StatusUnauthorized {
		t.Errorf("queue with wrong token = %d, want 401", status)
	}
	if status, _ := p.request(t, http.MethodGet, "/api/v1/queue", p.token, nil); status != http.StatusOK {
		t.Errorf("queue with token = %d, want 200", status)
	}
}

func TestBinary_QueuedSubmissionSurvivesOutage(t *testing.T) {
	backend := newFakeBackend(t, 0)
	backend.down.Store(true)
	p := startAgentProcess(t, backend.URL())

	status, body := p.request(t, http.MethodPost, "/api/v1/submissions/incident", p.token,
		map[string]any{"tree_id": "t-9", "incident_type": "fire"})
	if status != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202: %s", status, body)
	}

	backend.down.Store(false)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if len(backend.received()) > 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	got := backend.received()
	if len(got) != 1 || got[0].Path != "/api/v1/incidents" || got[0].IdempotencyKey == "" {
		t.Fatalf("received = %+v, want one incident with an idempotency key", got)
	}

	var q types.QueueResponse
	for time.Now().Before(deadline) {
		_, body = p.request(t, http.MethodGet, "/api/v1/queue", p.token, nil)
		if err := json.Unmarshal(body, &q); err != nil {
			t.Fatalf("decode queue: %v", err)
		}
		if q.Total == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Errorf("queue total = %d after reconnect, want 0", q.Total)
}
