package sink

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/docsink/docsink/pkg/errors"
)

// Action is the indexing envelope carried on the durable queue. Index and
// Kind come from the document's own routing metadata, ID is minted fresh at
// publish time, and Source is the original document verbatim. A republished
// document therefore indexes under a new ID, which is the at-least-once
// trade-off: duplicates are possible, loss is not.
type Action struct {
	Index  string          `json:"_index"`
	Kind   string          `json:"_type"`
	ID     string          `json:"_id"`
	TTL    int64           `json:"_ttl,omitempty"`
	Source json.RawMessage `json:"_source"`
}

// Routing is the self-describing metadata every document carries. The
// pipeline never consults an external registry on the publish path; the
// document alone decides where it goes.
type Routing struct {
	Tenant      string      `json:"tenant"`
	Correlation Correlation `json:"correlation"`
}

// Correlation names the matched producer pattern and the sinks the document
// is destined for.
type Correlation struct {
	Pattern string   `json:"pattern"`
	Sinks   []string `json:"sinks"`
}

type routedDocument struct {
	Routing Routing `json:"routing"`
}

// ParseRouting extracts and validates routing metadata from a raw document.
// Malformed documents fail immediately and are never retried.
func ParseRouting(doc []byte) (Routing, error) {
	var rd routedDocument
	if err := json.Unmarshal(doc, &rd); err != nil {
		return Routing{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "document is not valid JSON: %v", err)
	}
	rt := rd.Routing
	rt.Tenant = strings.TrimSpace(rt.Tenant)
	rt.Correlation.Pattern = strings.TrimSpace(rt.Correlation.Pattern)
	if rt.Tenant == "" {
		return Routing{}, apperrors.New(apperrors.ErrInvalidInput, 400, "routing.tenant is required")
	}
	if rt.Correlation.Pattern == "" {
		return Routing{}, apperrors.New(apperrors.ErrInvalidInput, 400, "routing.correlation.pattern is required")
	}
	return rt, nil
}

// NewAction wraps a document in a fresh Action envelope. ttlSeconds of 0
// omits the TTL field.
func NewAction(rt Routing, doc []byte, ttlSeconds int64) Action {
	return Action{
		Index:  rt.Tenant,
		Kind:   rt.Correlation.Pattern,
		ID:     uuid.NewString(),
		TTL:    ttlSeconds,
		Source: json.RawMessage(doc),
	}
}

// DecodeAction parses a queue payload back into an Action. Payloads that do
// not decode, or that lack the fields indexing requires, can never succeed
// and are treated as poison by the reader.
func DecodeAction(payload []byte) (Action, error) {
	var act Action
	if err := json.Unmarshal(payload, &act); err != nil {
		return Action{}, fmt.Errorf("decoding action: %w", err)
	}
	if act.Index == "" {
		return Action{}, fmt.Errorf("action %s has no index", act.ID)
	}
	if len(act.Source) == 0 {
		return Action{}, fmt.Errorf("action %s has no source document", act.ID)
	}
	return act, nil
}

// Receipt describes a successfully enqueued document.
type Receipt struct {
	ActionID string `json:"action_id"`
	Index    string `json:"index"`
	Kind     string `json:"kind"`
}
