// Package ingest defines the response types returned by the document
// ingestion HTTP endpoint. Requests have no fixed schema: the body is the
// document itself, carrying its own routing metadata.
package ingest

// Response statuses. A queued document has a durable action on the queue; a
// skipped document was valid but routed to sinks this service does not serve.
const (
	StatusQueued  = "queued"
	StatusSkipped = "skipped"
)

// Response is returned to the caller after a document is accepted.
type Response struct {
	ActionID string `json:"action_id,omitempty"`
	Index    string `json:"index,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Status   string `json:"status"`
}
