package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultTopK is used when a query does not set TopK.
	DefaultTopK = 10

	// DefaultDocumentURLPrefix is prepended to a chunk's source path to build
	// the URL the HTTP server serves the document from.
	DefaultDocumentURLPrefix = "/api/document/"

	// overFetchFactor widens the candidate set when date bounds can only be
	// applied after the query.
	overFetchFactor = 4

	// maxFetch caps the number of candidates requested from a backend.
	maxFetch = 200
)

// Query holds the parameters of a semantic search.
type Query struct {
	// Text is the natural-language query.
	Text string

	// TopK is the maximum number of results. Zero means DefaultTopK.
	TopK int

	// Category restricts results to one category when non-empty.
	Category Category

	// DateFrom is the inclusive lower bound on upload_date.
	DateFrom *time.Time

	// DateTo is the inclusive upper bound on upload_date.
	DateTo *time.Time
}

// SearchResult is one ranked chunk returned by Search.
type SearchResult struct {
	DocumentID  string    `json:"document_id"`
	Filename    string    `json:"filename"`
	Category    Category  `json:"category"`
	ChunkText   string    `json:"chunk_text"`
	PageNumber  int       `json:"page_number,omitempty"`
	UploadDate  time.Time `json:"upload_date"`
	Similarity  float64   `json:"similarity_score"`
	DocumentURL string    `json:"document_url"`
}

// Reranker reorders search results. The default keeps backend order.
type Reranker func(ctx context.Context, query string, results []SearchResult) []SearchResult

// IdentityReranker returns results unchanged.
func IdentityReranker(_ context.Context, _ string, results []SearchResult) []SearchResult {
	return results
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	// Embedder converts the query text to a vector. Required.
	Embedder Embedder

	// Store performs the similarity search. Required.
	Store VectorStore

	// DefaultTopK is used when Query.TopK is zero (default: DefaultTopK).
	DefaultTopK int

	// DocumentURLPrefix is prepended to source paths (default: DefaultDocumentURLPrefix).
	DocumentURLPrefix string

	// Reranker post-processes results (default: IdentityReranker).
	Reranker Reranker

	// Logger receives per-search timings. Defaults to slog.Default.
	Logger *slog.Logger
}

// Retriever turns natural-language queries into ranked SearchResults.
type Retriever struct {
	embedder    Embedder
	store       VectorStore
	defaultTopK int
	urlPrefix   string
	rerank      Reranker
	logger      *slog.Logger
}

// NewRetriever validates cfg and returns a Retriever.
func NewRetriever(cfg RetrieverConfig) (*Retriever, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: rag: embedder must not be nil", ErrConfig)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: rag: store must not be nil", ErrConfig)
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.DocumentURLPrefix == "" {
		cfg.DocumentURLPrefix = DefaultDocumentURLPrefix
	}
	if cfg.Reranker == nil {
		cfg.Reranker = IdentityReranker
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{
		embedder:    cfg.Embedder,
		store:       cfg.Store,
		defaultTopK: cfg.DefaultTopK,
		urlPrefix:   cfg.DocumentURLPrefix,
		rerank:      cfg.Reranker,
		logger:      cfg.Logger,
	}, nil
}

// Search embeds q.Text and returns up to q.TopK results ordered by
// descending similarity. Category is always enforced by the backend. Date
// bounds are pushed to the backend when it supports range filters and are
// always re-checked against upload_date, so results are the same on every
// backend. An empty store yields an empty slice, not an error.
func (r *Retriever) Search(ctx context.Context, q Query) ([]SearchResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: rag: query text must not be empty", ErrConfig)
	}
	if q.Category != "" {
		c, err := ParseCategory(string(q.Category))
		if err != nil {
			return nil, err
		}
		q.Category = c
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.defaultTopK
	}

	start := time.Now()

	vec, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	embedDur := time.Since(start)

	filter, fetch := r.buildFilter(q, topK)

	queryStart := time.Now()
	matches, err := r.store.Query(ctx, vec, fetch, filter, true)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	queryDur := time.Since(queryStart)

	results := make([]SearchResult, 0, min(len(matches), topK))
	for _, m := range matches {
		res, ok := r.toResult(m, q)
		if !ok {
			continue
		}
		results = append(results, res)
		if len(results) == topK {
			break
		}
	}

	results = r.rerank(ctx, q.Text, results)

	r.logger.Info("rag: search complete",
		slog.Int("results", len(results)),
		slog.Int("candidates", len(matches)),
		slog.Duration("embed", embedDur),
		slog.Duration("query", queryDur),
		slog.Duration("total", time.Since(start)),
	)

	return results, nil
}

// buildFilter returns the backend filter and the number of candidates to
// request.
func (r *Retriever) buildFilter(q Query, topK int) (Filter, int) {
	var f Filter
	if q.Category != "" {
		f.Equals = map[string]string{FieldCategory: q.Category.String()}
	}

	if q.DateFrom == nil && q.DateTo == nil {
		return f, topK
	}

	if r.store.Capabilities().RangeFilters {
		f.Ranges = []RangeCondition{{Field: FieldUploadDate, From: q.DateFrom, To: q.DateTo}}
		return f, topK
	}

	return f, min(topK*overFetchFactor, max(topK, maxFetch))
}

// toResult maps a match into a SearchResult. ok is false when the match
// falls outside the query's date bounds.
func (r *Retriever) toResult(m Match, q Query) (SearchResult, bool) {
	uploaded, hasDate := MetaTime(m.Metadata, FieldUploadDate)
	if q.DateFrom != nil || q.DateTo != nil {
		if !hasDate {
			return SearchResult{}, false
		}
		if q.DateFrom != nil && uploaded.Before(*q.DateFrom) {
			return SearchResult{}, false
		}
		if q.DateTo != nil && uploaded.After(*q.DateTo) {
			return SearchResult{}, false
		}
	}

	text := m.Text
	if text == "" {
		text = MetaString(m.Metadata, FieldText)
	}

	var url string
	if src := MetaString(m.Metadata, FieldSourcePath); src != "" {
		url = r.urlPrefix + src
	}

	return SearchResult{
		DocumentID:  MetaString(m.Metadata, FieldDocumentID),
		Filename:    MetaString(m.Metadata, FieldFilename),
		Category:    Category(MetaString(m.Metadata, FieldCategory)),
		ChunkText:   text,
		PageNumber:  MetaInt(m.Metadata, FieldPageNumber),
		UploadDate:  uploaded,
		Similarity:  round4(Similarity(m.Score, m.Kind)),
		DocumentURL: url,
	}, true
}

// DocumentCount returns the number of indexed chunks.
func (r *Retriever) DocumentCount(ctx context.Context) (int64, error) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("rag: stats failed: %w", err)
	}
	return st.Count, nil
}

// IndexStats returns the backend statistics.
func (r *Retriever) IndexStats(ctx context.Context) (Stats, error) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("rag: stats failed: %w", err)
	}
	return st, nil
}
