// Package worker runs detection and unsubscribe jobs on a background pool.
package worker

import (
	"time"

	"github.com/google/uuid"

	"mailsweep/core/domain"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

const (
	// Scan jobs
	JobScanFull    JobType = "scan.full"    // full mailbox scan
	JobScanMessage         = "scan.message" // incremental single-message fold

	// Unsubscribe jobs
	JobUnsubscribe     = "unsubscribe.request"
	JobUnsubscribeBulk = "unsubscribe.bulk"

	// Maintenance jobs
	JobDeferredRetry = "deferred.retry"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`

	// ChunkKey routes the job to a fixed worker so jobs sharing a key are
	// processed in submission order. Scan jobs key on the sender address.
	ChunkKey string `json:"chunk_key,omitempty"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

// NewPriorityMessage creates a message with specific priority.
func NewPriorityMessage(jobType string, payload map[string]any, priority Priority) *Message {
	m := NewMessage(jobType, payload)
	m.Priority = priority
	return m
}

// IsPriority checks if message should go to priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// Scan payloads
type ScanFullPayload struct {
	UserID string `json:"user_id"`
}

type ScanMessagePayload struct {
	UserID string `json:"user_id"`
	// Message carries the full normalized message so the fold needs no
	// provider round trip.
	Message *domain.NormalizedMessage `json:"message"`
}

// Unsubscribe payloads
type UnsubscribePayload struct {
	UserID         string `json:"user_id"`
	SubscriptionID int64  `json:"subscription_id"`
}

type UnsubscribeBulkPayload struct {
	UserID          string  `json:"user_id"`
	SubscriptionIDs []int64 `json:"subscription_ids"`
}

// Maintenance payloads
type DeferredRetryPayload struct {
	Limit int `json:"limit"`
}
