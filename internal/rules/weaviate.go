package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-resty/resty/v2"
)

// SearchMode selects the Weaviate query operator
type SearchMode string

const (
	ModeNearText SearchMode = "nearText"
	ModeBM25     SearchMode = "bm25"
)

const (
	DefaultCollection = "generalRules"
	insertBatchSize   = 10
)

// WeaviateOptions configures the Weaviate client
type WeaviateOptions struct {
	URL        string
	APIKey     string
	Collection string
	Mode       SearchMode
	Timeout    time.Duration
}

// WeaviateClient queries a Weaviate collection over its REST and GraphQL APIs
type WeaviateClient struct {
	client *resty.Client
	class  string
	mode   SearchMode
}

// NewWeaviateClient creates a client for the collection in opts
func NewWeaviateClient(opts WeaviateOptions) *WeaviateClient {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Mode == "" {
		opts.Mode = ModeNearText
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.URL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &WeaviateClient{
		client: client,
		class:  className(opts.Collection),
		mode:   opts.Mode,
	}
}

// className applies Weaviate's rule that class names start upper case
func className(collection string) string {
	if collection == "" {
		return collection
	}
	r := []rune(collection)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Class is the Weaviate class queried by this client
func (c *WeaviateClient) Class() string { return c.class }

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data struct {
		Get map[string][]Document `json:"Get"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Search runs a nearText or bm25 query. A failed nearText query, typically a
// collection without a vectorizer, is retried once as bm25.
func (c *WeaviateClient) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	docs, err := c.search(ctx, c.mode, query, limit)
	if err != nil && c.mode == ModeNearText {
		slog.Warn("nearText search failed, falling back to bm25",
			"class", c.class,
			"error", err)
		return c.search(ctx, ModeBM25, query, limit)
	}
	return docs, err
}

func (c *WeaviateClient) search(ctx context.Context, mode SearchMode, query string, limit int) ([]Document, error) {
	quoted, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	var operator string
	switch mode {
	case ModeBM25:
		operator = fmt.Sprintf("bm25: {query: %s}", quoted)
	default:
		operator = fmt.Sprintf("nearText: {concepts: [%s]}", quoted)
	}
	gql := fmt.Sprintf("{ Get { %s(%s, limit: %d) { text source category } } }", c.class, operator, limit)

	var out graphQLResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"query": gql}).
		SetResult(&out).
		Post("/v1/graphql")
	if err != nil {
		return nil, fmt.Errorf("weaviate graphql request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("weaviate graphql returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("weaviate graphql error: %s", strings.Join(msgs, "; "))
	}

	return out.Data.Get[c.class], nil
}

// Live checks the liveness endpoint
func (c *WeaviateClient) Live(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/v1/.well-known/live")
	if err != nil {
		return fmt.Errorf("weaviate liveness check failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("weaviate liveness check returned %d", resp.StatusCode())
	}
	return nil
}

type classProperty struct {
	Name     string   `json:"name"`
	DataType []string `json:"dataType"`
}

// EnsureCollection creates the class with text, source and category
// properties unless it already exists
func (c *WeaviateClient) EnsureCollection(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/v1/schema/" + c.class)
	if err != nil {
		return fmt.Errorf("failed to read weaviate schema: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("weaviate schema lookup returned %d: %s", resp.StatusCode(), resp.String())
	}

	body := map[string]any{
		"class": c.class,
		"properties": []classProperty{
			{Name: "text", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "category", DataType: []string{"text"}},
		},
	}
	resp, err = c.client.R().SetContext(ctx).SetBody(body).Post("/v1/schema")
	if err != nil {
		return fmt.Errorf("failed to create weaviate class: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("weaviate class creation returned %d: %s", resp.StatusCode(), resp.String())
	}
	slog.Info("created weaviate class", "class", c.class)
	return nil
}

type batchObject struct {
	Class      string   `json:"class"`
	Properties Document `json:"properties"`
}

type batchResult struct {
	Result struct {
		Errors *struct {
			Error []graphQLError `json:"error"`
		} `json:"errors"`
	} `json:"result"`
}

// Insert writes documents in batches. Failed batches are logged and skipped;
// the number of stored documents is returned.
func (c *WeaviateClient) Insert(ctx context.Context, docs []Document) (int, error) {
	stored := 0
	var errs []error

	for start := 0; start < len(docs); start += insertBatchSize {
		end := min(start+insertBatchSize, len(docs))

		objects := make([]batchObject, 0, end-start)
		for _, d := range docs[start:end] {
			objects = append(objects, batchObject{Class: c.class, Properties: d})
		}

		var results []batchResult
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(map[string]any{"objects": objects}).
			SetResult(&results).
			Post("/v1/batch/objects")
		if err == nil && resp.IsError() {
			err = fmt.Errorf("batch insert returned %d: %s", resp.StatusCode(), resp.String())
		}
		if err != nil {
			slog.Error("failed to insert batch", "batch", start/insertBatchSize+1, "error", err)
			errs = append(errs, err)
			continue
		}

		for _, r := range results {
			if r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				slog.Warn("object rejected by weaviate", "error", r.Result.Errors.Error[0].Message)
				continue
			}
			stored++
		}
	}

	return stored, errors.Join(errs...)
}
