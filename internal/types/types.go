package types

import (
	"fmt"
	"time"
)

// MaxRetries is the retry ceiling: a queued submission whose retry count
// reaches this value is dropped from the queue.
const MaxRetries = 5

// SubmissionType identifies which backend operation a submission targets.
type SubmissionType string

const (
	SubmissionRegister    SubmissionType = "register"
	SubmissionValidate    SubmissionType = "validate"
	SubmissionGrowthCheck SubmissionType = "growth_check"
	SubmissionIncident    SubmissionType = "incident"
)

// SubmissionTypes lists every valid submission type.
var SubmissionTypes = []SubmissionType{
	SubmissionRegister,
	SubmissionValidate,
	SubmissionGrowthCheck,
	SubmissionIncident,
}

// ParseSubmissionType validates s against the closed set of submission types.
func ParseSubmissionType(s string) (SubmissionType, error) {
	for _, t := range SubmissionTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown submission type %q", s)
}

// QueuedSubmission is a form submission waiting to be replayed against the backend.
type QueuedSubmission struct {
	ID             string         `json:"id"`
	Type           SubmissionType `json:"type"`
	Endpoint       string         `json:"endpoint"`
	Payload        Payload        `json:"payload"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
	RetryCount     int            `json:"retry_count"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// AtRetryLimit reports whether the next failed replay will drop this item.
func (q QueuedSubmission) AtRetryLimit() bool {
	return q.RetryCount >= MaxRetries-1
}

// Resource is a paginated, independently cached record collection.
type Resource string

const (
	ResourceTasks   Resource = "tasks"
	ResourceReports Resource = "reports"
	ResourceTrees   Resource = "trees"
	ResourceSpecies Resource = "species"
)

// Resources lists every cached resource type.
var Resources = []Resource{ResourceTasks, ResourceReports, ResourceTrees, ResourceSpecies}

// ParseResource validates s against the closed set of resources.
func ParseResource(s string) (Resource, error) {
	for _, r := range Resources {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q", s)
}

// SyncState is the coarse state of the last sync attempt.
type SyncState string

const (
	SyncSyncing SyncState = "syncing"
	SyncSuccess SyncState = "success"
	SyncError   SyncState = "error"
)

// SyncStatus is informational only; last write wins.
type SyncStatus struct {
	State   SyncState `json:"state"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// SubmitResult is returned by the submission dispatcher.
type SubmitResult struct {
	Success bool   `json:"success"`
	Queued  bool   `json:"queued"`
	Message string `json:"message,omitempty"`
}

// DrainResult summarizes one pass over the submission queue.
type DrainResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// TileResult summarizes one offline-map download batch.
type TileResult struct {
	Success    bool `json:"success"`
	Downloaded int  `json:"downloaded"`
	Cached     int  `json:"cached"`
	Total      int  `json:"total"`
	Failed     int  `json:"failed"`
}
