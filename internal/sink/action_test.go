package sink

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/docsink/docsink/pkg/errors"
)

func TestParseRouting(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		wantTenant string
		wantErr    bool
	}{
		{
			name:       "full routing block",
			doc:        `{"routing":{"tenant":"acme","correlation":{"pattern":"nginx-access","sinks":["elasticsearch"]}},"message":"GET /"}`,
			wantTenant: "acme",
		},
		{
			name:       "whitespace around tenant is trimmed",
			doc:        `{"routing":{"tenant":"  acme  ","correlation":{"pattern":"nginx-access"}}}`,
			wantTenant: "acme",
		},
		{
			name:    "not json",
			doc:     `tenant=acme`,
			wantErr: true,
		},
		{
			name:    "missing routing block",
			doc:     `{"message":"hello"}`,
			wantErr: true,
		},
		{
			name:    "blank tenant",
			doc:     `{"routing":{"tenant":"   ","correlation":{"pattern":"p"}}}`,
			wantErr: true,
		},
		{
			name:    "missing pattern",
			doc:     `{"routing":{"tenant":"acme","correlation":{}}}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := ParseRouting([]byte(tt.doc))
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrInvalidInput) {
					t.Fatalf("ParseRouting error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRouting: %v", err)
			}
			if rt.Tenant != tt.wantTenant {
				t.Errorf("tenant = %q, want %q", rt.Tenant, tt.wantTenant)
			}
		})
	}
}

func TestActionRoundTrip(t *testing.T) {
	doc := []byte(`{"routing":{"tenant":"acme","correlation":{"pattern":"syslog","sinks":["elasticsearch"]}},"message":"boot"}`)
	rt, err := ParseRouting(doc)
	if err != nil {
		t.Fatalf("ParseRouting: %v", err)
	}
	act := NewAction(rt, doc, 3600)
	if act.ID == "" {
		t.Fatal("NewAction minted no id")
	}
	payload, err := json.Marshal(act)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := DecodeAction(payload)
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	if got.Index != "acme" || got.Kind != "syslog" || got.ID != act.ID || got.TTL != 3600 {
		t.Errorf("decoded envelope = %+v, want index acme, kind syslog, id %s, ttl 3600", got, act.ID)
	}
	if string(got.Source) != string(doc) {
		t.Errorf("source not carried verbatim:\n got %s\nwant %s", got.Source, doc)
	}
}

func TestActionOmitsZeroTTL(t *testing.T) {
	act := NewAction(Routing{Tenant: "acme", Correlation: Correlation{Pattern: "p"}}, []byte(`{}`), 0)
	payload, err := json.Marshal(act)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(payload), "_ttl") {
		t.Errorf("zero ttl should be omitted from the envelope: %s", payload)
	}
}

func TestDecodeActionRejectsUnusablePayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `%%%`},
		{name: "no index", payload: `{"_type":"p","_id":"x","_source":{"a":1}}`},
		{name: "no source", payload: `{"_index":"acme","_type":"p","_id":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeAction([]byte(tt.payload)); err == nil {
				t.Fatal("DecodeAction accepted an unusable payload")
			}
		})
	}
}
