package status

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/docsink/docsink/pkg/errors"
)

// fakeStore is an in-memory key-value store with TTL expiry.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	err     error
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]fakeEntry)}
}

func (s *fakeStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if s.err != nil {
		return s.err
	}
	var str string
	switch v := value.(type) {
	case []byte:
		str = string(v)
	case string:
		str = v
	default:
		return errors.New("unsupported value type")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = fakeEntry{value: str, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", goredis.Nil
	}
	return e.value, nil
}

func (s *fakeStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	prefix := strings.TrimSuffix(pattern, "*")
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && time.Now().Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *fakeStore) MGet(ctx context.Context, keys ...string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(keys))
	for i, k := range keys {
		if e, ok := s.entries[k]; ok && time.Now().Before(e.expiresAt) {
			out[i] = e.value
		}
	}
	return out, nil
}

func TestRegistryRoundTrip(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store, time.Minute)
	ctx := context.Background()

	ws := WorkerStatus{
		WorkerID:       "host-0",
		Hostname:       "host",
		State:          "consuming",
		StartedAt:      time.Now().UTC().Truncate(time.Second),
		DocsFlushed:    42,
		BatchesFlushed: 7,
		Restarts:       1,
	}
	if err := reg.Report(ctx, ws); err != nil {
		t.Fatalf("Report: %v", err)
	}

	got, err := reg.Get(ctx, "host-0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WorkerID != "host-0" || got.State != "consuming" || got.DocsFlushed != 42 {
		t.Errorf("got %+v", got)
	}
	if got.LastSeen.IsZero() {
		t.Error("Report did not stamp last_seen")
	}
}

func TestRegistryGetUnknownWorker(t *testing.T) {
	reg := NewRegistry(newFakeStore(), time.Minute)
	_, err := reg.Get(context.Background(), "ghost")
	if !errors.Is(err, apperrors.ErrWorkerNotFound) {
		t.Fatalf("Get error = %v, want ErrWorkerNotFound", err)
	}
	if apperrors.HTTPStatusCode(err) != 404 {
		t.Errorf("status = %d, want 404", apperrors.HTTPStatusCode(err))
	}
}

func TestRegistryListsLiveWorkersOnly(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store, time.Minute)
	ctx := context.Background()

	for _, id := range []string{"host-0", "host-1"} {
		if err := reg.Report(ctx, WorkerStatus{WorkerID: id, State: "consuming"}); err != nil {
			t.Fatalf("Report %s: %v", id, err)
		}
	}
	// A worker whose heartbeat already expired must not be listed.
	store.mu.Lock()
	store.entries["worker:host-2"] = fakeEntry{value: `{"worker_id":"host-2"}`, expiresAt: time.Now().Add(-time.Second)}
	store.mu.Unlock()

	statuses, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("listed %d workers, want 2", len(statuses))
	}
	seen := map[string]bool{}
	for _, ws := range statuses {
		seen[ws.WorkerID] = true
	}
	if !seen["host-0"] || !seen["host-1"] {
		t.Errorf("listed workers = %v", seen)
	}
}

func TestRegistryListSkipsUndecodableEntries(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store, time.Minute)
	ctx := context.Background()

	if err := reg.Report(ctx, WorkerStatus{WorkerID: "host-0"}); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	store.entries["worker:bad"] = fakeEntry{value: "not json", expiresAt: time.Now().Add(time.Minute)}
	store.mu.Unlock()

	statuses, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(statuses) != 1 || statuses[0].WorkerID != "host-0" {
		t.Errorf("statuses = %+v, want only host-0", statuses)
	}
}

func TestRegistryEmptyList(t *testing.T) {
	reg := NewRegistry(newFakeStore(), time.Minute)
	statuses, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("listed %d workers, want 0", len(statuses))
	}
}

func TestRegistrySurfacesStoreFailures(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	reg := NewRegistry(store, time.Minute)
	ctx := context.Background()

	if err := reg.Report(ctx, WorkerStatus{WorkerID: "host-0"}); err == nil {
		t.Error("Report swallowed store failure")
	}
	if _, err := reg.Get(ctx, "host-0"); err == nil || errors.Is(err, apperrors.ErrWorkerNotFound) {
		t.Errorf("Get error = %v, want plain store failure", err)
	}
	if _, err := reg.List(ctx); err == nil {
		t.Error("List swallowed store failure")
	}
}
