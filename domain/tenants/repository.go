package tenants

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/pagemill/pagemill/pkg/apperror"
	"github.com/pagemill/pagemill/pkg/auth"
	"github.com/pagemill/pagemill/pkg/logger"
)

// Repository handles database operations for tenants.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("tenants.repo")),
	}
}

// ResolveByFingerprint implements auth.TenantResolver for the API key
// middleware.
func (r *Repository) ResolveByFingerprint(ctx context.Context, fingerprint string) (*auth.Tenant, error) {
	var tenant Tenant
	err := r.db.NewSelect().
		Model(&tenant).
		Where("t.credential_fingerprint = ?", fingerprint).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrTenantNotFound
		}
		return nil, apperror.NewInternal("failed to resolve tenant", err)
	}

	return &auth.Tenant{
		ID:                 tenant.ID.String(),
		Name:               tenant.Name,
		RateLimitPerMinute: tenant.RateLimitPerMinute,
	}, nil
}

// Create inserts a tenant row.
func (r *Repository) Create(ctx context.Context, tenant *Tenant) error {
	_, err := r.db.NewInsert().Model(tenant).Returning("*").Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrConflict.WithMessage("tenant name already exists")
		}
		r.log.Error("failed to create tenant", logger.Error(err))
		return apperror.NewInternal("failed to create tenant", err)
	}
	return nil
}

// GetByID returns one tenant.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	var tenant Tenant
	err := r.db.NewSelect().
		Model(&tenant).
		Where("t.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrTenantNotFound
		}
		return nil, apperror.NewInternal("failed to get tenant", err)
	}
	return &tenant, nil
}

// List returns all tenants ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]*Tenant, error) {
	var list []*Tenant
	err := r.db.NewSelect().
		Model(&list).
		Order("t.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.NewInternal("failed to list tenants", err)
	}
	return list, nil
}

// UpdateFingerprint replaces the credential fingerprint (key rotation).
func (r *Repository) UpdateFingerprint(ctx context.Context, id uuid.UUID, fingerprint string) error {
	res, err := r.db.NewUpdate().
		Model((*Tenant)(nil)).
		Set("credential_fingerprint = ?", fingerprint).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to rotate credential", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrTenantNotFound
	}
	return nil
}

// Delete removes the tenant row. Callers run the cross-store cascade first.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*Tenant)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.NewInternal("failed to delete tenant", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrTenantNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// pgx surfaces SQLSTATE 23505 in the error string via bun
	return err != nil && strings.Contains(err.Error(), "23505")
}
