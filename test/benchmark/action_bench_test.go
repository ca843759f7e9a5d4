// Package benchmark contains Go benchmarks for the pipeline's hot paths:
// routing extraction, action envelope encoding and decoding, dispatch, and
// document validation, measuring throughput and allocation behaviour.
package benchmark

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/docsink/docsink/internal/sink"
)

var sampleDocs = map[string][]byte{
	"small": []byte(`{"routing":{"tenant":"acme","correlation":{"pattern":"syslog","sinks":[]}},"message":"connection accepted from upstream"}`),
	"medium": []byte(`{"routing":{"tenant":"acme","correlation":{"pattern":"nginx-access","sinks":["elasticsearch"]}},
		"remote_addr":"10.40.2.17","request":"GET /v1/messages HTTP/1.1","status":202,"bytes_sent":512,
		"user_agent":"docsink-loadtest/1.0","request_time":0.004,"upstream":"ingest-3",
		"message":"request completed","host":"edge-7","timestamp":"2025-11-02T10:15:04.221Z"}`),
	"large": fmt.Appendf(nil,
		`{"routing":{"tenant":"acme","correlation":{"pattern":"app-json","sinks":[]}},"message":"batch checkpoint","payload":%q}`,
		strings.Repeat("stack frame detail with file paths and argument dumps ", 100)),
}

// BenchmarkParseRouting measures routing metadata extraction across document
// sizes. This runs once per document on the publish path.
func BenchmarkParseRouting(b *testing.B) {
	for name, doc := range sampleDocs {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(doc)))
			for i := 0; i < b.N; i++ {
				rt, err := sink.ParseRouting(doc)
				if err != nil {
					b.Fatal(err)
				}
				_ = rt
			}
		})
	}
}

// BenchmarkActionEncode measures wrapping a parsed document in a fresh
// action envelope and marshaling it for the queue.
func BenchmarkActionEncode(b *testing.B) {
	for name, doc := range sampleDocs {
		rt, err := sink.ParseRouting(doc)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(doc)))
			for i := 0; i < b.N; i++ {
				act := sink.NewAction(rt, doc, 3600)
				payload, err := json.Marshal(act)
				if err != nil {
					b.Fatal(err)
				}
				_ = payload
			}
		})
	}
}

// BenchmarkDecodeAction measures the consume-side decode that every flush
// worker performs per delivery.
func BenchmarkDecodeAction(b *testing.B) {
	for name, doc := range sampleDocs {
		rt, err := sink.ParseRouting(doc)
		if err != nil {
			b.Fatal(err)
		}
		payload, err := json.Marshal(sink.NewAction(rt, doc, 3600))
		if err != nil {
			b.Fatal(err)
		}
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(payload)))
			for i := 0; i < b.N; i++ {
				act, err := sink.DecodeAction(payload)
				if err != nil {
					b.Fatal(err)
				}
				_ = act
			}
		})
	}
}

// BenchmarkActionRoundTripParallel measures the full encode/decode cycle
// under concurrency.
func BenchmarkActionRoundTripParallel(b *testing.B) {
	doc := sampleDocs["medium"]
	rt, err := sink.ParseRouting(doc)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.SetBytes(int64(len(doc)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			payload, err := json.Marshal(sink.NewAction(rt, doc, 3600))
			if err != nil {
				b.Fatal(err)
			}
			if _, err := sink.DecodeAction(payload); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkParseRoutingVaryingSize measures how extraction scales with
// document size, since routing lives at the front of arbitrarily large
// bodies.
func BenchmarkParseRoutingVaryingSize(b *testing.B) {
	sizes := []int{256, 1024, 4096, 16384, 65536}
	for _, size := range sizes {
		padding := strings.Repeat("x", size)
		doc := fmt.Appendf(nil,
			`{"routing":{"tenant":"acme","correlation":{"pattern":"syslog","sinks":[]}},"payload":%q}`,
			padding)
		b.Run(fmt.Sprintf("bytes_%d", len(doc)), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(doc)))
			for i := 0; i < b.N; i++ {
				if _, err := sink.ParseRouting(doc); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
