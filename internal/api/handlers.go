package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldwork/fieldsync/internal/backend"
	"github.com/fieldwork/fieldsync/internal/config"
	"github.com/fieldwork/fieldsync/internal/dispatch"
	"github.com/fieldwork/fieldsync/internal/tiles"
	"github.com/fieldwork/fieldsync/internal/types"
	"github.com/fieldwork/fieldsync/internal/validation"
)

// maxBodyBytes bounds JSON request bodies. File contents never travel through
// the agent API, only references to files already on disk.
const maxBodyBytes = 1 << 20

// Queue is the subset of the submission queue the API exposes.
type Queue interface {
	List(ctx context.Context) []types.QueuedSubmission
	Get(ctx context.Context, id string) (types.QueuedSubmission, bool)
	Len(ctx context.Context) int
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Submitter sends a submission now or queues it.
type Submitter interface {
	Submit(ctx context.Context, typ types.SubmissionType, endpoint string, payload types.Payload, send dispatch.SendFunc) types.SubmitResult
}

// Syncer replays the queue.
type Syncer interface {
	Drain(ctx context.Context) types.DrainResult
}

// ResourceFetcher serves cached or live resource pages.
type ResourceFetcher interface {
	Fetch(ctx context.Context, resource types.Resource, page, pageSize int) (any, error)
}

// TileCache downloads and measures offline map tiles.
type TileCache interface {
	Check(bbox tiles.BBox, zooms []int) (int, error)
	EnsureTilesForBounds(ctx context.Context, bbox tiles.BBox, zooms []int) types.TileResult
	Stats() (types.TileStats, error)
}

// StorageInfo measures the local database.
type StorageInfo interface {
	Stats(ctx context.Context) (keys int64, sizeBytes int64, err error)
}

// Connectivity reports the last observed reachability of the backend.
type Connectivity interface {
	Online() bool
}

// SyncMeta exposes the last sync time and status.
type SyncMeta interface {
	LastSync(ctx context.Context) (time.Time, bool)
	Status(ctx context.Context) (types.SyncStatus, bool)
}

// Deps are the collaborators a Handler serves from.
type Deps struct {
	Queue      Queue
	Dispatcher Submitter
	Sender     func(types.SubmissionType) dispatch.SendFunc
	Drainer    Syncer
	Resources  ResourceFetcher
	Tiles      TileCache
	Storage    StorageInfo
	Monitor    Connectivity
	Meta       SyncMeta
	ClearCache func(ctx context.Context) error
	Zooms      []int
	Token      string
	Version    string
}

// Handler implements the agent API handlers.
type Handler struct {
	queue      Queue
	dispatcher Submitter
	sender     func(types.SubmissionType) dispatch.SendFunc
	drainer    Syncer
	resources  ResourceFetcher
	tiles      TileCache
	storage    StorageInfo
	monitor    Connectivity
	meta       SyncMeta
	clearCache func(ctx context.Context) error
	zooms      []int
	token      string
	version    string
}

// NewHandler creates a Handler from its dependencies.
func NewHandler(d Deps) *Handler {
	return &Handler{
		queue:      d.Queue,
		dispatcher: d.Dispatcher,
		sender:     d.Sender,
		drainer:    d.Drainer,
		resources:  d.Resources,
		tiles:      d.Tiles,
		storage:    d.Storage,
		monitor:    d.Monitor,
		meta:       d.Meta,
		clearCache: d.ClearCache,
		zooms:      d.Zooms,
		token:      d.Token,
		version:    d.Version,
	}
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:      "ok",
		Version:     h.version,
		Online:      h.monitor.Online(),
		QueueLength: h.queue.Len(r.Context()),
	})
}

// Submit handles POST /api/v1/submissions/{type}. The body is the flat form
// payload. Sent submissions return 200, queued ones 202, and a submission
// that was neither sent nor queued 503.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	typ, err := types.ParseSubmissionType(chi.URLParam(r, "type"))
	if err != nil {
		WriteProblem(w, r, http.StatusNotFound, err.Error())
		return
	}

	var payload types.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if err := validation.ValidateSubmission(typ, payload); err != nil {
		MapError(w, r, err)
		return
	}

	// A client hanging up must not abandon a half-finished send or enqueue.
	ctx := context.WithoutCancel(r.Context())
	res := h.dispatcher.Submit(ctx, typ, backend.Endpoint(typ), payload, h.sender(typ))

	status := http.StatusOK
	switch {
	case res.Queued:
		status = http.StatusAccepted
	case !res.Success:
		status = http.StatusServiceUnavailable
		slog.Warn("submission lost", "component", "api", "type", typ, "error", res.Message)
	}
	writeJSON(w, status, res)
}

// ListQueue handles GET /api/v1/queue
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	items := h.queue.List(r.Context())
	resp := types.QueueResponse{Items: make([]types.QueueItem, 0, len(items)), Total: len(items)}
	for _, q := range items {
		resp.Items = append(resp.Items, types.NewQueueItem(q))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RemoveQueueItem handles DELETE /api/v1/queue/{id}
func (h *Handler) RemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if verr := validation.ValidateULID("id", id); verr != nil {
		WriteProblemWithErrors(w, r, "Invalid queue item id", []validation.ValidationError{*verr})
		return
	}
	if _, ok := h.queue.Get(r.Context(), id); !ok {
		WriteProblem(w, r, http.StatusNotFound, "Queue item not found")
		return
	}
	if err := h.queue.Remove(r.Context(), id); err != nil {
		slog.Error("queue remove failed", "component", "api", "id", id, "error", err)
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearQueue handles DELETE /api/v1/queue
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		slog.Error("queue clear failed", "component", "api", "error", err)
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync handles POST /api/v1/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.drainer.Drain(r.Context()))
}

// FetchResource handles GET /api/v1/resources/{resource}?page=&page_size=
func (h *Handler) FetchResource(w http.ResponseWriter, r *http.Request) {
	resource, err := types.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		WriteProblem(w, r, http.StatusNotFound, err.Error())
		return
	}
	page, err := intQuery(r, "page", 1)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := intQuery(r, "page_size", 0)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.resources.Fetch(r.Context(), resource, page, pageSize)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ClearCache handles DELETE /api/v1/cache
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.clearCache(r.Context()); err != nil {
		slog.Error("cache clear failed", "component", "api", "error", err)
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnsureTiles handles POST /api/v1/tiles
func (h *Handler) EnsureTiles(w http.ResponseWriter, r *http.Request) {
	var req types.TileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	bbox := tiles.BBox{North: req.North, South: req.South, East: req.East, West: req.West}
	zooms := req.Zooms
	if len(zooms) == 0 {
		zooms = h.zooms
	}

	var c validation.Collector
	if err := bbox.Validate(); err != nil {
		c.Add(&validation.ValidationError{Field: "bbox", Message: err.Error()})
	}
	for _, z := range zooms {
		c.Add(validation.ValidateRange("zooms", float64(z), 0, config.MaxZoom))
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}
	if _, err := h.tiles.Check(bbox, zooms); err != nil {
		c.Add(&validation.ValidationError{Field: "zooms", Message: err.Error()})
		WriteProblemWithErrors(w, r, "Request covers too many tiles", c.Errors())
		return
	}

	writeJSON(w, http.StatusOK, h.tiles.EnsureTilesForBounds(r.Context(), bbox, zooms))
}

// TileStats handles GET /api/v1/tiles
func (h *Handler) TileStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.tiles.Stats()
	if err != nil {
		slog.Error("tile stats failed", "component", "api", "error", err)
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := types.StatusResponse{
		Online:      h.monitor.Online(),
		QueueLength: h.queue.Len(ctx),
	}
	if t, ok := h.meta.LastSync(ctx); ok {
		resp.LastSync = &t
	}
	if st, ok := h.meta.Status(ctx); ok {
		resp.SyncStatus = &st
	}
	if st, err := h.tiles.Stats(); err != nil {
		slog.Warn("tile stats unavailable", "component", "api", "error", err)
	} else {
		resp.Tiles = &st
	}
	if h.storage != nil {
		if keys, size, err := h.storage.Stats(ctx); err != nil {
			slog.Warn("storage stats unavailable", "component", "api", "error", err)
		} else {
			resp.Storage = &types.StorageStats{Keys: keys, Bytes: size}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
