package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docsink/docsink/pkg/config"
	apperrors "github.com/docsink/docsink/pkg/errors"
)

func testPublisher(t *testing.T, q Queue) *Publisher {
	t.Helper()
	p := NewPublisher(q, config.SinkConfig{
		Name:        "elasticsearch",
		DefaultSink: "elasticsearch",
		TTL:         time.Hour,
	}, testMetrics(t))
	p.retry.InitialDelay = time.Millisecond
	p.retry.MaxDelay = 2 * time.Millisecond
	return p
}

func TestEnqueueWrapsDocumentInActionEnvelope(t *testing.T) {
	q := &fakeQueue{}
	p := testPublisher(t, q)

	doc := []byte(`{"routing":{"tenant":"acme","correlation":{"pattern":"nginx"}},"message":"GET /"}`)
	receipt, err := p.Enqueue(context.Background(), doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	act := q.last(t)
	if act.Index != "acme" {
		t.Errorf("action index = %q, want tenant %q", act.Index, "acme")
	}
	if act.Kind != "nginx" {
		t.Errorf("action kind = %q, want pattern %q", act.Kind, "nginx")
	}
	if act.ID == "" || act.ID != receipt.ActionID {
		t.Errorf("action id %q does not match receipt %q", act.ID, receipt.ActionID)
	}
	if act.TTL != 3600 {
		t.Errorf("action ttl = %d seconds, want 3600", act.TTL)
	}
	if string(act.Source) != string(doc) {
		t.Errorf("source not carried verbatim: %s", act.Source)
	}
}

func TestEnqueueMintsFreshIDPerCall(t *testing.T) {
	q := &fakeQueue{}
	p := testPublisher(t, q)
	doc := []byte(`{"routing":{"tenant":"acme","correlation":{"pattern":"nginx"}}}`)

	r1, err := p.Enqueue(context.Background(), doc)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	r2, err := p.Enqueue(context.Background(), doc)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if r1.ActionID == r2.ActionID {
		t.Errorf("republished document reused action id %q; every publish must mint a new one", r1.ActionID)
	}
}

func TestEnqueueRejectsMalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{{`},
		{"missing routing", `{"message":"hi"}`},
		{"blank tenant", `{"routing":{"tenant":"  ","correlation":{"pattern":"p"}}}`},
		{"missing pattern", `{"routing":{"tenant":"acme","correlation":{}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			p := testPublisher(t, q)
			_, err := p.Enqueue(context.Background(), []byte(tt.doc))
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Fatalf("Enqueue error = %v, want ErrInvalidInput", err)
			}
			if q.count() != 0 {
				t.Errorf("malformed document was published; rejection must be side-effect free")
			}
		})
	}
}

func TestEnqueueRetriesTransientPublishFailures(t *testing.T) {
	q := &fakeQueue{failures: 2}
	p := testPublisher(t, q)
	doc := []byte(`{"routing":{"tenant":"acme","correlation":{"pattern":"nginx"}}}`)

	if _, err := p.Enqueue(context.Background(), doc); err != nil {
		t.Fatalf("Enqueue should have recovered after transient failures: %v", err)
	}
	if q.count() != 1 {
		t.Fatalf("published %d messages, want exactly 1", q.count())
	}
}

func TestEnqueueSurfacesExhaustedRetries(t *testing.T) {
	q := &fakeQueue{failures: 10}
	p := testPublisher(t, q)
	doc := []byte(`{"routing":{"tenant":"acme","correlation":{"pattern":"nginx"}}}`)

	_, err := p.Enqueue(context.Background(), doc)
	if !errors.Is(err, apperrors.ErrQueueUnavailable) {
		t.Fatalf("Enqueue error = %v, want ErrQueueUnavailable after retries", err)
	}
	if q.count() != 0 {
		t.Errorf("failed publish left %d messages behind", q.count())
	}
}
