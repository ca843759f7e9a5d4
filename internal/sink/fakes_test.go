package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docsink/docsink/pkg/elastic"
	"github.com/docsink/docsink/pkg/metrics"
)

// testMetrics hands every test the same registered collector set;
// prometheus.MustRegister panics on duplicate registration.
var (
	metricsOnce sync.Once
	sharedM     *metrics.Metrics
)

func testMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	metricsOnce.Do(func() {
		sharedM = metrics.New()
	})
	return sharedM
}

// fakeMsg records its acknowledgement fate.
type fakeMsg struct {
	body     []byte
	mu       sync.Mutex
	acked    bool
	requeued bool
	ackErr   error
}

func (m *fakeMsg) Body() []byte { return m.body }

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ackErr != nil {
		return m.ackErr
	}
	m.acked = true
	return nil
}

func (m *fakeMsg) Requeue() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = true
	return nil
}

func (m *fakeMsg) fate() (acked, requeued bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked, m.requeued
}

// fakeStream replays a scripted sequence of pulls. Each entry is either a
// message or an error; when the script runs out it returns errAfter (or
// blocks on ctx if errAfter is nil).
type streamEvent struct {
	msg *fakeMsg
	err error
}

type fakeStream struct {
	mu       sync.Mutex
	events   []streamEvent
	errAfter error
	closed   bool
}

func (s *fakeStream) Next(ctx context.Context, wait time.Duration) (Message, error) {
	s.mu.Lock()
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()
		if ev.err != nil {
			return nil, ev.err
		}
		return ev.msg, nil
	}
	errAfter := s.errAfter
	s.mu.Unlock()
	if errAfter != nil {
		return nil, errAfter
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, ErrNoMessage
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeBulker scripts per-document outcomes by action ID. IDs in the reject
// set fail with status 400; everything else is accepted. A non-nil err fails
// whole batches.
type fakeBulker struct {
	mu      sync.Mutex
	reject  map[string]bool
	err     error
	batches [][]elastic.Doc
}

func (b *fakeBulker) Bulk(ctx context.Context, docs []elastic.Doc) ([]elastic.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.batches = append(b.batches, docs)
	results := make([]elastic.Result, len(docs))
	for i, d := range docs {
		if b.reject[d.ID] {
			results[i] = elastic.Result{OK: false, Status: 400, Reason: "mapper_parsing_exception"}
		} else {
			results[i] = elastic.Result{OK: true, Status: 201}
		}
	}
	return results, nil
}

// fakeQueue is an in-memory Queue for publisher tests.
type fakeQueue struct {
	mu        sync.Mutex
	published [][]byte
	failures  int
	err       error
}

func (q *fakeQueue) Publish(ctx context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures > 0 {
		q.failures--
		return errors.New("broker unavailable")
	}
	if q.err != nil {
		return q.err
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	q.published = append(q.published, cp)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

func (q *fakeQueue) last(t *testing.T) Action {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.published) == 0 {
		t.Fatal("nothing published")
	}
	var act Action
	if err := json.Unmarshal(q.published[len(q.published)-1], &act); err != nil {
		t.Fatalf("published payload does not decode: %v", err)
	}
	return act
}

// queuedMsg builds a fake delivery carrying a marshaled Action.
func queuedMsg(t *testing.T, act Action) *fakeMsg {
	t.Helper()
	payload, err := json.Marshal(act)
	if err != nil {
		t.Fatalf("marshaling action: %v", err)
	}
	return &fakeMsg{body: payload}
}

func testAction(id, index string) Action {
	return Action{
		Index:  index,
		Kind:   "default",
		ID:     id,
		Source: json.RawMessage(`{"content":"hello"}`),
	}
}
