// Package validator provides input validation for ingested documents. It
// enforces routing metadata constraints and returns per-field error details.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	maxTenantLength  = 255
	maxPatternLength = 255
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

type envelope struct {
	Routing struct {
		Tenant      string `json:"tenant"`
		Correlation struct {
			Pattern string   `json:"pattern"`
			Sinks   []string `json:"sinks"`
		} `json:"correlation"`
	} `json:"routing"`
}

// ValidateDocument checks that a raw document carries usable routing
// metadata. The tenant doubles as the backend index name, so it must satisfy
// index naming rules, and returns a ValidationError if not.
func ValidateDocument(doc []byte) error {
	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return &ValidationError{Fields: map[string]string{
			"document": "document must be a JSON object",
		}}
	}

	errs := make(map[string]string)

	tenant := strings.TrimSpace(env.Routing.Tenant)
	if tenant == "" {
		errs["routing.tenant"] = "tenant is required"
	} else if len(tenant) > maxTenantLength {
		errs["routing.tenant"] = fmt.Sprintf("tenant must be at most %d characters", maxTenantLength)
	} else if !validTenant(tenant) {
		errs["routing.tenant"] = "tenant must be lowercase letters, digits, '-', '_' or '.', and start with a letter or digit"
	}

	pattern := strings.TrimSpace(env.Routing.Correlation.Pattern)
	if pattern == "" {
		errs["routing.correlation.pattern"] = "pattern is required"
	} else if len(pattern) > maxPatternLength {
		errs["routing.correlation.pattern"] = fmt.Sprintf("pattern must be at most %d characters", maxPatternLength)
	}

	for i, s := range env.Routing.Correlation.Sinks {
		if strings.TrimSpace(s) == "" {
			errs["routing.correlation.sinks"] = fmt.Sprintf("sink entry %d is blank", i)
			break
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// validTenant reports whether s is safe to use as a backend index name:
// lowercase alphanumerics plus '-', '_' and '.', not leading.
func validTenant(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
