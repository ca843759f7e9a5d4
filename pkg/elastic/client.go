// Package elastic wraps the official go-elasticsearch typed client for bulk
// document submission. Bulk responses are mapped to per-document results in
// input order, which the flush workers rely on for selective
// acknowledgement.
package elastic

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"

	"github.com/docsink/docsink/pkg/config"
	"github.com/docsink/docsink/pkg/logger"
)

// Doc is one document to index in a bulk request.
type Doc struct {
	Index string
	ID    string
	Body  []byte
}

// Result is the per-document outcome of a bulk request. Results are returned
// in the same order as the submitted docs.
type Result struct {
	OK     bool
	Status int
	Reason string
}

// Client wraps an Elasticsearch typed client. One Client is shared across
// all flush workers; log attribution comes from the caller's context.
type Client struct {
	es  *elasticsearch.TypedClient
	cfg config.ElasticConfig
}

// New creates a Client for the configured addresses.
func New(cfg config.ElasticConfig) (*Client, error) {
	es, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{es: es, cfg: cfg}, nil
}

// Bulk submits one index operation per doc and returns a Result per doc in
// input order. A non-nil error means the whole request failed and nothing
// can be said about individual documents.
func (c *Client) Bulk(ctx context.Context, docs []Doc) ([]Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	bulkWriter := c.es.Bulk()
	for i := range docs {
		index := docs[i].Index
		op := types.IndexOperation{
			Index_: &index,
			Id_:    optionalStr(docs[i].ID),
		}
		if err := bulkWriter.IndexOp(op, docs[i].Body); err != nil {
			return nil, fmt.Errorf("adding operation to batch: %w", err)
		}
	}

	start := time.Now()
	result, err := bulkWriter.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("sending bulk request: %w", err)
	}

	results := make([]Result, len(docs))
	for i := range results {
		results[i] = Result{OK: true, Status: http.StatusCreated}
	}
	if result.Errors {
		for i, item := range result.Items {
			if i >= len(results) {
				break
			}
			for _, responseItem := range item {
				results[i].Status = responseItem.Status
				if responseItem.Error != nil {
					results[i].OK = false
					if responseItem.Error.Reason != nil {
						results[i].Reason = *responseItem.Error.Reason
					}
				}
			}
		}
	}

	logger.FromContext(ctx).Debug("bulk request complete",
		"docs", len(docs),
		"errors", result.Errors,
		"took", result.Took,
		"elapsed", time.Since(start),
	)
	return results, nil
}

// Ping verifies the cluster answers, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.es.Info().Do(ctx); err != nil {
		return fmt.Errorf("elasticsearch info: %w", err)
	}
	return nil
}

func optionalStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
