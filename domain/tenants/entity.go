package tenants

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Tenant is a row in the tenants table. The API key itself is never stored,
// only its SHA-256 fingerprint.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants,alias:t"`

	ID                    uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	Name                  string    `bun:"name,notnull,unique" json:"name"`
	CredentialFingerprint string    `bun:"credential_fingerprint,notnull,unique" json:"-"`
	RateLimitPerMinute    int       `bun:"rate_limit_per_minute,notnull" json:"rateLimitPerMinute"`
	CreatedAt             time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt             time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// CreateTenantRequest is the admin request to create a tenant.
type CreateTenantRequest struct {
	Name               string `json:"name" validate:"required"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute,omitempty"`
}

// TenantCreatedResponse carries the plaintext API key. This is the only time
// the key is ever returned.
type TenantCreatedResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	APIKey             string `json:"apiKey"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`
	CreatedAt          string `json:"createdAt"`
}

// RotateCredentialResponse carries the replacement plaintext key.
type RotateCredentialResponse struct {
	ID     string `json:"id"`
	APIKey string `json:"apiKey"`
}

// TenantDTO is the response format for tenant reads.
type TenantDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`
	CreatedAt          string `json:"createdAt"`
}

// DeleteTenantResponse reports what the cascading delete removed.
type DeleteTenantResponse struct {
	Deleted          bool  `json:"deleted"`
	DocumentsDeleted int   `json:"documentsDeleted"`
	ChunksDeleted    int   `json:"chunksDeleted"`
	VectorsDeleted   int64 `json:"vectorsDeleted"`
	JobsDeleted      int   `json:"jobsDeleted"`
}

// ToDTO converts a Tenant to its response format.
func (t *Tenant) ToDTO() *TenantDTO {
	return &TenantDTO{
		ID:                 t.ID.String(),
		Name:               t.Name,
		RateLimitPerMinute: t.RateLimitPerMinute,
		CreatedAt:          t.CreatedAt.Format(time.RFC3339),
	}
}

// ListTenantsResponse is the response for listing tenants.
type ListTenantsResponse struct {
	Data       []*TenantDTO `json:"data"`
	TotalCount int          `json:"totalCount"`
}
