package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	apperrors "github.com/docsink/docsink/pkg/errors"
	"github.com/docsink/docsink/pkg/postgres"
)

// schema is applied at startup. Producer rows cascade with their tenant, and
// the per-tenant unique name is what turns duplicate registrations into 409s.
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id         BIGSERIAL PRIMARY KEY,
	tenant_id  TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS event_producers (
	id         BIGSERIAL PRIMARY KEY,
	tenant_id  BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	pattern    TEXT NOT NULL,
	durable    BOOLEAN NOT NULL DEFAULT FALSE,
	encrypted  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, name)
);`

// Store persists tenants and event producers in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a Store over the given database client.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "tenant-store"),
	}
}

// EnsureSchema creates the registry tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying tenant registry schema: %w", err)
	}
	return nil
}

// CreateTenant registers a new tenant. An existing tenant_id is a conflict.
func (s *Store) CreateTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO tenants (tenant_id) VALUES ($1)
			 ON CONFLICT (tenant_id) DO NOTHING
			 RETURNING id, tenant_id, created_at`,
			tenantID).Scan(&t.ID, &t.TenantID, &t.CreatedAt)
		if err == sql.ErrNoRows {
			return apperrors.Newf(apperrors.ErrTenantExists, 409, "tenant %s already exists", tenantID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tenant created", "tenant_id", t.TenantID)
	return &t, nil
}

// GetTenant looks up a tenant by its external identifier.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, created_at FROM tenants WHERE tenant_id = $1`,
		tenantID).Scan(&t.ID, &t.TenantID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrTenantNotFound, 404, "tenant %s not found", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant %s: %w", tenantID, err)
	}
	return &t, nil
}

// DeleteTenant removes a tenant and, via cascade, all its producers.
func (s *Store) DeleteTenant(ctx context.Context, tenantID string) error {
	res, err := s.db.Exec(ctx,
		`DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("deleting tenant %s: %w", tenantID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting tenant %s: %w", tenantID, err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrTenantNotFound, 404, "tenant %s not found", tenantID)
	}
	s.logger.Info("tenant deleted", "tenant_id", tenantID)
	return nil
}

// ListProducers returns all event producers registered for a tenant.
func (s *Store) ListProducers(ctx context.Context, tenantID string) ([]EventProducer, error) {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT p.id, p.name, p.pattern, p.durable, p.encrypted, p.created_at
		 FROM event_producers p
		 JOIN tenants t ON p.tenant_id = t.id
		 WHERE t.tenant_id = $1
		 ORDER BY p.name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing producers for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	producers := make([]EventProducer, 0)
	for rows.Next() {
		var p EventProducer
		if err := rows.Scan(&p.ID, &p.Name, &p.Pattern, &p.Durable, &p.Encrypted, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning producer row: %w", err)
		}
		producers = append(producers, p)
	}
	return producers, rows.Err()
}

// CreateProducer registers an event producer under a tenant. A duplicate
// name within the tenant is a conflict.
func (s *Store) CreateProducer(ctx context.Context, tenantID string, np NewProducer) (*EventProducer, error) {
	var p EventProducer
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var rowID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM tenants WHERE tenant_id = $1`, tenantID).Scan(&rowID)
		if err == sql.ErrNoRows {
			return apperrors.Newf(apperrors.ErrTenantNotFound, 404, "tenant %s not found", tenantID)
		}
		if err != nil {
			return fmt.Errorf("resolving tenant %s: %w", tenantID, err)
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO event_producers (tenant_id, name, pattern, durable, encrypted)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (tenant_id, name) DO NOTHING
			 RETURNING id, name, pattern, durable, encrypted, created_at`,
			rowID, np.Name, np.Pattern, np.Durable, np.Encrypted,
		).Scan(&p.ID, &p.Name, &p.Pattern, &p.Durable, &p.Encrypted, &p.CreatedAt)
		if err == sql.ErrNoRows {
			return apperrors.Newf(apperrors.ErrProducerExists, 409,
				"producer %s already exists for tenant %s", np.Name, tenantID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("producer created",
		"tenant_id", tenantID,
		"name", p.Name,
		"pattern", p.Pattern,
	)
	return &p, nil
}

// GetProducer returns one event producer by id, scoped to its tenant.
func (s *Store) GetProducer(ctx context.Context, tenantID string, producerID int64) (*EventProducer, error) {
	var p EventProducer
	err := s.db.QueryRow(ctx,
		`SELECT p.id, p.name, p.pattern, p.durable, p.encrypted, p.created_at
		 FROM event_producers p
		 JOIN tenants t ON p.tenant_id = t.id
		 WHERE t.tenant_id = $1 AND p.id = $2`,
		tenantID, producerID).Scan(&p.ID, &p.Name, &p.Pattern, &p.Durable, &p.Encrypted, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrProducerNotFound, 404,
			"producer %d not found for tenant %s", producerID, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying producer %d: %w", producerID, err)
	}
	return &p, nil
}

// DeleteProducer removes one event producer, scoped to its tenant.
func (s *Store) DeleteProducer(ctx context.Context, tenantID string, producerID int64) error {
	res, err := s.db.Exec(ctx,
		`DELETE FROM event_producers p
		 USING tenants t
		 WHERE p.tenant_id = t.id AND t.tenant_id = $1 AND p.id = $2`,
		tenantID, producerID)
	if err != nil {
		return fmt.Errorf("deleting producer %d: %w", producerID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting producer %d: %w", producerID, err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrProducerNotFound, 404,
			"producer %d not found for tenant %s", producerID, tenantID)
	}
	s.logger.Info("producer deleted", "tenant_id", tenantID, "producer_id", producerID)
	return nil
}
