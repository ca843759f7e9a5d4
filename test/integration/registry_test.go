package integration

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docsink/docsink/internal/status"
	"github.com/docsink/docsink/internal/tenant"
	"github.com/docsink/docsink/pkg/config"
	apperrors "github.com/docsink/docsink/pkg/errors"
	"github.com/docsink/docsink/pkg/postgres"
	pkgredis "github.com/docsink/docsink/pkg/redis"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	cfg := config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "docsink_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "docsink"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
	db, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// skipIfNoRedis skips the test when Redis is unavailable.
func skipIfNoRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	cfg := config.RedisConfig{
		Addr:     envOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		Password: envOrDefault("TEST_REDIS_PASSWORD", ""),
		DB:       envOrDefaultInt("TEST_REDIS_DB", 0),
		PoolSize: 5,
	}
	client, err := pkgredis.NewClient(cfg)
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestTenantRegistryLifecycle walks a tenant and its producers through the
// full create/read/delete cycle against a real database.
func TestTenantRegistryLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	store := tenant.NewStore(db)
	if err := store.EnsureSchema(t.Context()); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}

	tenantID := fmt.Sprintf("it%d", time.Now().UnixNano())
	created, err := store.CreateTenant(t.Context(), tenantID)
	if err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	t.Cleanup(func() {
		// Idempotent teardown; the happy path deletes the tenant itself.
		_ = store.DeleteTenant(t.Context(), tenantID)
	})
	if created.ID == 0 || created.TenantID != tenantID {
		t.Fatalf("unexpected tenant: %+v", created)
	}

	if _, err := store.CreateTenant(t.Context(), tenantID); !errors.Is(err, apperrors.ErrTenantExists) {
		t.Errorf("duplicate tenant: got %v, want ErrTenantExists", err)
	}

	got, err := store.GetTenant(t.Context(), tenantID)
	if err != nil {
		t.Fatalf("getting tenant: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("got tenant id %d, want %d", got.ID, created.ID)
	}

	producer, err := store.CreateProducer(t.Context(), tenantID, tenant.NewProducer{
		Name:    "syslog",
		Pattern: "syslog",
	})
	if err != nil {
		t.Fatalf("creating producer: %v", err)
	}
	if producer.ID == 0 || producer.Durable || producer.Encrypted {
		t.Fatalf("unexpected producer: %+v", producer)
	}

	if _, err := store.CreateProducer(t.Context(), tenantID, tenant.NewProducer{
		Name:    "syslog",
		Pattern: "other",
	}); !errors.Is(err, apperrors.ErrProducerExists) {
		t.Errorf("duplicate producer name: got %v, want ErrProducerExists", err)
	}

	list, err := store.ListProducers(t.Context(), tenantID)
	if err != nil {
		t.Fatalf("listing producers: %v", err)
	}
	if len(list) != 1 || list[0].ID != producer.ID {
		t.Fatalf("unexpected producer list: %+v", list)
	}

	fetched, err := store.GetProducer(t.Context(), tenantID, producer.ID)
	if err != nil {
		t.Fatalf("getting producer: %v", err)
	}
	if fetched.Name != "syslog" || fetched.Pattern != "syslog" {
		t.Errorf("unexpected producer fields: %+v", fetched)
	}

	if err := store.DeleteProducer(t.Context(), tenantID, producer.ID); err != nil {
		t.Fatalf("deleting producer: %v", err)
	}
	if _, err := store.GetProducer(t.Context(), tenantID, producer.ID); !errors.Is(err, apperrors.ErrProducerNotFound) {
		t.Errorf("deleted producer lookup: got %v, want ErrProducerNotFound", err)
	}

	if err := store.DeleteTenant(t.Context(), tenantID); err != nil {
		t.Fatalf("deleting tenant: %v", err)
	}
	if _, err := store.GetTenant(t.Context(), tenantID); !errors.Is(err, apperrors.ErrTenantNotFound) {
		t.Errorf("deleted tenant lookup: got %v, want ErrTenantNotFound", err)
	}
}

// TestProducersScopedToTenant verifies one tenant's producers are invisible
// to another tenant, including by direct ID.
func TestProducersScopedToTenant(t *testing.T) {
	db := skipIfNoPostgres(t)
	store := tenant.NewStore(db)
	if err := store.EnsureSchema(t.Context()); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}

	suffix := time.Now().UnixNano()
	first := fmt.Sprintf("ita%d", suffix)
	second := fmt.Sprintf("itb%d", suffix)
	for _, id := range []string{first, second} {
		if _, err := store.CreateTenant(t.Context(), id); err != nil {
			t.Fatalf("creating tenant %s: %v", id, err)
		}
		t.Cleanup(func() { _ = store.DeleteTenant(t.Context(), id) })
	}

	producer, err := store.CreateProducer(t.Context(), first, tenant.NewProducer{
		Name:    "nginx",
		Pattern: "nginx-access",
		Durable: true,
	})
	if err != nil {
		t.Fatalf("creating producer: %v", err)
	}
	if !producer.Durable {
		t.Error("durable flag not persisted")
	}

	if _, err := store.GetProducer(t.Context(), second, producer.ID); !errors.Is(err, apperrors.ErrProducerNotFound) {
		t.Errorf("cross-tenant producer lookup: got %v, want ErrProducerNotFound", err)
	}

	list, err := store.ListProducers(t.Context(), second)
	if err != nil {
		t.Fatalf("listing second tenant producers: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("second tenant sees %d producers, want 0", len(list))
	}
}

// TestWorkerStatusExpires verifies heartbeats age out of the registry when a
// worker stops refreshing them.
func TestWorkerStatusExpires(t *testing.T) {
	client := skipIfNoRedis(t)
	registry := status.NewRegistry(client, time.Second)

	workerID := fmt.Sprintf("it-worker-%d", time.Now().UnixNano())
	ws := status.WorkerStatus{
		WorkerID:    workerID,
		Hostname:    "integration",
		State:       "consuming",
		StartedAt:   time.Now().UTC(),
		DocsFlushed: 42,
	}
	if err := registry.Report(t.Context(), ws); err != nil {
		t.Fatalf("reporting heartbeat: %v", err)
	}

	got, err := registry.Get(t.Context(), workerID)
	if err != nil {
		t.Fatalf("reading heartbeat: %v", err)
	}
	if got.DocsFlushed != 42 || got.LastSeen.IsZero() {
		t.Fatalf("unexpected heartbeat: %+v", got)
	}

	list, err := registry.List(t.Context())
	if err != nil {
		t.Fatalf("listing workers: %v", err)
	}
	found := false
	for _, w := range list {
		if w.WorkerID == workerID {
			found = true
		}
	}
	if !found {
		t.Errorf("worker %s missing from list of %d", workerID, len(list))
	}

	time.Sleep(1500 * time.Millisecond)
	if _, err := registry.Get(t.Context(), workerID); !errors.Is(err, apperrors.ErrWorkerNotFound) {
		t.Errorf("expired heartbeat lookup: got %v, want ErrWorkerNotFound", err)
	}
}
