// Package jobs provides the durable job store for the pipeline. Rows in the
// jobs table are the source of truth for progress and retry counts; the queue
// substrate only carries job ids and their priority scores.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/pagemill/pagemill/internal/queue"
)

// Status represents the state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusDead marks jobs that exhausted retries or hit a permanent
	// error. Dead jobs are retained for inspection, never auto-deleted.
	StatusDead Status = "dead"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDead
}

// Job is a row in the jobs table: one unit of work at one stage for one
// document (or one chunk batch, for embed).
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID           uuid.UUID       `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	TenantID     uuid.UUID       `bun:"tenant_id,type:uuid,notnull" json:"tenantId"`
	DocumentID   uuid.UUID       `bun:"document_id,type:uuid,notnull" json:"documentId"`
	Stage        queue.Stage     `bun:"stage,notnull" json:"stage"`
	Status       Status          `bun:"status,notnull,default:'pending'" json:"status"`
	Payload      json.RawMessage `bun:"payload,type:jsonb" json:"-"`
	RetryCount   int             `bun:"retry_count,notnull,default:0" json:"retryCount"`
	MaxRetries   int             `bun:"max_retries,notnull" json:"maxRetries"`
	ErrorMessage string          `bun:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt    time.Time       `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	StartedAt    *time.Time      `bun:"started_at" json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `bun:"completed_at" json:"completedAt,omitempty"`
}

// Stage-discriminated payloads. The job's Stage column is the tag; decoding
// with the wrong type is a programming error surfaced by DecodePayload.

// ExtractPayload is the payload of an extract job.
type ExtractPayload struct {
	DocumentID string `json:"document_id"`
	BlobPath   string `json:"blob_path"`
	Filename   string `json:"filename"`
}

// ChunkPayload is the payload of a chunk job.
type ChunkPayload struct {
	DocumentID string `json:"document_id"`
	TextPath   string `json:"text_path"`
	Filename   string `json:"filename"`
}

// EmbedPayload is the payload of an embed job: one chunk batch.
type EmbedPayload struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids"`
	Filename   string   `json:"filename"`
}

// EncodePayload serializes a stage payload for storage.
func EncodePayload(payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return b, nil
}

// DecodePayload deserializes the job's payload into the given stage type.
func DecodePayload(job *Job, dest any) error {
	if err := json.Unmarshal(job.Payload, dest); err != nil {
		return fmt.Errorf("decode %s payload of job %s: %w", job.Stage, job.ID, err)
	}
	return nil
}

// StageStatus summarizes the jobs of one stage for a document.
type StageStatus struct {
	Stage  queue.Stage `json:"stage"`
	Status string      `json:"status"`
	Total  int         `json:"total"`
	Done   int         `json:"done"`
}

// Stats are per-stage job counts for the internal surface.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Dead       int64 `json:"dead"`
}
