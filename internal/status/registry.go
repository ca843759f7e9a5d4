// Package status tracks flush worker liveness in a shared registry. Workers
// report heartbeats with a TTL; entries that stop refreshing age out on
// their own, so the registry never lists workers that died without saying
// goodbye.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/docsink/docsink/pkg/errors"
	"github.com/docsink/docsink/pkg/redis"
)

const keyPrefix = "worker:"

// WorkerStatus is one worker's heartbeat record.
type WorkerStatus struct {
	WorkerID       string    `json:"worker_id"`
	Hostname       string    `json:"hostname"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastSeen       time.Time `json:"last_seen"`
	DocsFlushed    uint64    `json:"docs_flushed"`
	BatchesFlushed uint64    `json:"batches_flushed"`
	Restarts       uint64    `json:"restarts"`
}

// store is the minimal key-value surface the registry needs.
type store interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	MGet(ctx context.Context, keys ...string) ([]string, error)
}

// Registry stores worker heartbeats with a TTL.
type Registry struct {
	store  store
	ttl    time.Duration
	logger *slog.Logger
}

// NewRegistry creates a Registry over the given store. Entries expire after
// ttl unless refreshed.
func NewRegistry(s store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &Registry{
		store:  s,
		ttl:    ttl,
		logger: slog.Default().With("component", "status-registry"),
	}
}

// Report stores or refreshes a worker's heartbeat.
func (r *Registry) Report(ctx context.Context, ws WorkerStatus) error {
	ws.LastSeen = time.Now().UTC()
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshaling worker status: %w", err)
	}
	if err := r.store.Set(ctx, keyPrefix+ws.WorkerID, data, r.ttl); err != nil {
		return fmt.Errorf("storing worker status %s: %w", ws.WorkerID, err)
	}
	return nil
}

// Get returns the status for one worker, or ErrWorkerNotFound if its
// heartbeat expired or never existed.
func (r *Registry) Get(ctx context.Context, workerID string) (*WorkerStatus, error) {
	val, err := r.store.Get(ctx, keyPrefix+workerID)
	if err != nil {
		if redis.IsNilError(err) {
			return nil, apperrors.Newf(apperrors.ErrWorkerNotFound, 404, "worker %s", workerID)
		}
		return nil, fmt.Errorf("reading worker status %s: %w", workerID, err)
	}
	var ws WorkerStatus
	if err := json.Unmarshal([]byte(val), &ws); err != nil {
		return nil, fmt.Errorf("decoding worker status %s: %w", workerID, err)
	}
	return &ws, nil
}

// List returns every live worker's status.
func (r *Registry) List(ctx context.Context) ([]WorkerStatus, error) {
	keys, err := r.store.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scanning worker keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.store.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("reading worker statuses: %w", err)
	}
	statuses := make([]WorkerStatus, 0, len(vals))
	for i, val := range vals {
		if val == "" {
			// Key expired between scan and read.
			continue
		}
		var ws WorkerStatus
		if err := json.Unmarshal([]byte(val), &ws); err != nil {
			r.logger.Warn("skipping undecodable worker status", "key", keys[i], "error", err)
			continue
		}
		statuses = append(statuses, ws)
	}
	return statuses, nil
}
