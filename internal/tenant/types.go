// Package tenant implements the coordinator's tenant registry: the
// operator-facing record of tenants and their event producers, stored in
// PostgreSQL. The registry never sits on the publish path; documents carry
// their own routing and are accepted whether or not a matching producer is
// registered here.
package tenant

import "time"

// Tenant is one registered tenant. TenantID is the caller-chosen external
// identifier and doubles as the backend index name for the tenant's
// documents.
type Tenant struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EventProducer is one registered log source for a tenant. Pattern is the
// correlation pattern carried in document routing metadata.
type EventProducer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Pattern   string    `json:"pattern"`
	Durable   bool      `json:"durable"`
	Encrypted bool      `json:"encrypted"`
	CreatedAt time.Time `json:"created_at"`
}

// NewProducer is the payload for registering an event producer. Durable and
// Encrypted default to false when omitted.
type NewProducer struct {
	Name      string `json:"name"`
	Pattern   string `json:"pattern"`
	Durable   bool   `json:"durable"`
	Encrypted bool   `json:"encrypted"`
}
