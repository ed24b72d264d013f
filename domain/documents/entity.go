package documents

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/pagemill/pagemill/internal/jobs"
)

// DocumentStatus tracks pipeline progress. It only moves forward; retries
// are recorded on the job, not here.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusExtracting DocumentStatus = "extracting"
	StatusChunking   DocumentStatus = "chunking"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
	// StatusFailedDeletion marks a document whose cascading delete was
	// interrupted; the reconciler retries these.
	StatusFailedDeletion DocumentStatus = "failed_deletion"
)

// Document is a row in the documents table.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID        uuid.UUID         `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	TenantID  uuid.UUID         `bun:"tenant_id,type:uuid,notnull" json:"tenantId"`
	Filename  string            `bun:"filename,notnull" json:"filename"`
	BlobPath  string            `bun:"blob_path,notnull" json:"blobPath"`
	SizeBytes int64             `bun:"size_bytes,notnull" json:"sizeBytes"`
	Status    DocumentStatus    `bun:"status,notnull,default:'pending'" json:"status"`
	Metadata  map[string]string `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt time.Time         `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Chunk is a row in the chunks table. chunk_index is 0-based and contiguous
// per document; VectorSnapshotPath stays NULL until the embed stage has
// checkpointed and upserted this chunk's vector.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID                 uuid.UUID         `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	DocumentID         uuid.UUID         `bun:"document_id,type:uuid,notnull" json:"documentId"`
	TenantID           uuid.UUID         `bun:"tenant_id,type:uuid,notnull" json:"tenantId"`
	ChunkIndex         int               `bun:"chunk_index,notnull" json:"chunkIndex"`
	Text               string            `bun:"text,notnull" json:"text"`
	VectorSnapshotPath *string           `bun:"vector_snapshot_path" json:"vectorSnapshotPath,omitempty"`
	Metadata           map[string]string `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time         `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// UploadResponse is returned per accepted file.
type UploadResponse struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
}

// BulkUploadResponse wraps the per-file outcomes of a bulk upload. Files are
// enqueued independently; one bad file does not reject the batch.
type BulkUploadResponse struct {
	Accepted []*UploadResponse  `json:"accepted"`
	Rejected []*RejectedUpload  `json:"rejected,omitempty"`
}

// RejectedUpload reports a file the bulk endpoint refused.
type RejectedUpload struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// StageStatusDTO is one per-stage entry in the status response.
type StageStatusDTO struct {
	Status string `json:"status"`
	Total  int    `json:"total,omitempty"`
	Done   int    `json:"done,omitempty"`
}

// StatusResponse is the document status with per-stage breakdown.
type StatusResponse struct {
	DocumentID string                     `json:"documentId"`
	Filename   string                     `json:"filename"`
	Status     string                     `json:"status"`
	Stages     map[string]*StageStatusDTO `json:"stages"`
	CreatedAt  string                     `json:"createdAt"`
	UpdatedAt  string                     `json:"updatedAt"`
}

// DeleteResponse reports what the cascading delete removed.
type DeleteResponse struct {
	Deleted        bool `json:"deleted"`
	ChunksDeleted  int  `json:"chunksDeleted"`
	VectorsDeleted int  `json:"vectorsDeleted"`
}

// TenantMetrics is the GET /metrics/me response.
type TenantMetrics struct {
	Documents          int64             `json:"documents"`
	DocumentsByStatus  map[string]int64  `json:"documentsByStatus"`
	Chunks             int64             `json:"chunks"`
	TotalBytes         int64             `json:"totalBytes"`
	LastUploadAt       *string           `json:"lastUploadAt,omitempty"`
	RateLimitPerMinute int               `json:"rateLimitPerMinute"`
	RateLimitUsed      int               `json:"rateLimitUsed"`
}

// QueueDepth is one (stage, tenant) queue's current length, including
// deferred (backoff) entries.
type QueueDepth struct {
	Stage    string `json:"stage"`
	TenantID string `json:"tenantId"`
	Depth    int64  `json:"depth"`
}

// StatsResponse is the GET /internal/stats payload: global job counters plus
// per-queue depths.
type StatsResponse struct {
	Jobs   *jobs.Stats   `json:"jobs"`
	Queues []*QueueDepth `json:"queues"`
}

// DocumentDTO is the internal-surface document representation.
type DocumentDTO struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"sizeBytes"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// ToDTO converts a Document for the internal surface.
func (d *Document) ToDTO() *DocumentDTO {
	return &DocumentDTO{
		ID:        d.ID.String(),
		TenantID:  d.TenantID.String(),
		Filename:  d.Filename,
		SizeBytes: d.SizeBytes,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
	}
}
