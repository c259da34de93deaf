package types

import "time"

// HealthResponse is returned by the agent's health endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Online      bool   `json:"online"`
	QueueLength int    `json:"queue_length"`
}

// QueueItem is the listing view of a queued submission.
type QueueItem struct {
	QueuedSubmission
	MaxRetriesReached bool `json:"max_retries_reached"`
}

// NewQueueItem builds the listing view of q.
func NewQueueItem(q QueuedSubmission) QueueItem {
	return QueueItem{QueuedSubmission: q, MaxRetriesReached: q.AtRetryLimit()}
}

// QueueResponse lists the pending submissions in FIFO order.
type QueueResponse struct {
	Items []QueueItem `json:"items"`
	Total int         `json:"total"`
}

// TileStats describes the on-disk tile cache.
type TileStats struct {
	Tiles int   `json:"tiles"`
	Bytes int64 `json:"bytes"`
}

// StorageStats describes the local key-value database.
type StorageStats struct {
	Keys  int64 `json:"keys"`
	Bytes int64 `json:"bytes"`
}

// StatusResponse is the agent's overall sync picture.
type StatusResponse struct {
	Online      bool          `json:"online"`
	QueueLength int           `json:"queue_length"`
	LastSync    *time.Time    `json:"last_sync,omitempty"`
	SyncStatus  *SyncStatus   `json:"sync_status,omitempty"`
	Tiles       *TileStats    `json:"tiles,omitempty"`
	Storage     *StorageStats `json:"storage,omitempty"`
}

// TileRequest asks for every tile covering BBox at each zoom. An empty Zooms
// uses the configured defaults.
type TileRequest struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
	Zooms []int   `json:"zooms,omitempty"`
}
