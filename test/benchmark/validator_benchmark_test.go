package benchmark

import (
	"testing"

	"github.com/docsink/docsink/internal/ingest/validator"
)

// BenchmarkValidateDocument measures ingest-side validation, which runs on
// every HTTP request before anything touches the broker.
func BenchmarkValidateDocument(b *testing.B) {
	for name, doc := range sampleDocs {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(doc)))
			for i := 0; i < b.N; i++ {
				if err := validator.ValidateDocument(doc); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkValidateDocumentRejects measures the failure paths, which should
// stay cheap because clients control what arrives.
func BenchmarkValidateDocumentRejects(b *testing.B) {
	bad := map[string][]byte{
		"not_json":       []byte(`{"routing":`),
		"missing_tenant": []byte(`{"routing":{"correlation":{"pattern":"syslog"}},"message":"x"}`),
		"bad_charset":    []byte(`{"routing":{"tenant":"ACME/../etc","correlation":{"pattern":"syslog"}},"message":"x"}`),
	}
	for name, doc := range bad {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := validator.ValidateDocument(doc); err == nil {
					b.Fatal("expected validation failure")
				}
			}
		})
	}
}

// BenchmarkValidateDocumentParallel measures validation under the concurrent
// request load the ingest service actually sees.
func BenchmarkValidateDocumentParallel(b *testing.B) {
	doc := sampleDocs["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(doc)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := validator.ValidateDocument(doc); err != nil {
				b.Fatal(err)
			}
		}
	})
}
