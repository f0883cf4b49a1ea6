// Package ingestion implements the PDF ingestion pipeline. It downloads a
// document from the blob store, extracts its text page by page, chunks each
// page, embeds every chunk in one batch, and upserts the results into the
// vector store.
// This pipeline backs the `agrofinder ingest` and `agrofinder index` CLI
// commands and the /api/ingest and /api/upload endpoints.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/54b3r/agrofinder-go/internal/blob"
	"github.com/54b3r/agrofinder-go/internal/budget"
	"github.com/54b3r/agrofinder-go/internal/chunker"
	"github.com/54b3r/agrofinder-go/internal/extractor"
	"github.com/54b3r/agrofinder-go/internal/logging"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// documentIDLength is the number of hex characters kept from the digest.
const documentIDLength = 32

// Request describes one document to ingest.
type Request struct {
	// SourcePath is the object path in the blob store.
	SourcePath string

	// Category is the document category. Validated with rag.ParseCategory.
	Category rag.Category

	// Metadata holds caller-supplied extras merged into every chunk's
	// metadata after the standard fields, overriding them on conflict.
	Metadata map[string]any
}

// Result summarises a successful ingestion.
type Result struct {
	// DocumentID is the identifier assigned to the document.
	DocumentID string `json:"document_id"`
	// Filename is the base name of the source path.
	Filename string `json:"filename"`
	// ChunkCount is the number of chunks written.
	ChunkCount int `json:"num_chunks"`
}

// Config holds the dependencies of the ingestion pipeline.
type Config struct {
	// Blobs serves the source documents. Required.
	Blobs blob.Store

	// Embedder converts chunk text into vectors. Required.
	Embedder rag.Embedder

	// Store persists the embedded chunks. Required.
	Store rag.VectorStore

	// Extractor turns document bytes into pages (default: PDF extractor).
	Extractor extractor.Extractor

	// Chunker splits page text (default: chunker.DefaultSize / DefaultOverlap).
	Chunker *chunker.Chunker

	// Limits bounds the embedding request size. Exceeding them logs a
	// warning; the provider remains the authority on rejection.
	Limits budget.Limits

	// Now returns the ingestion timestamp (default: time.Now).
	Now func() time.Time
}

// Pipeline orchestrates the download → extract → chunk → embed → upsert flow.
type Pipeline struct {
	blobs     blob.Store
	embedder  rag.Embedder
	store     rag.VectorStore
	extractor extractor.Extractor
	chunker   *chunker.Chunker
	limits    budget.Limits
	now       func() time.Time
}

// NewPipeline constructs a Pipeline from the provided dependencies.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("%w: ingestion: blob store must not be nil", rag.ErrConfig)
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: ingestion: embedder must not be nil", rag.ErrConfig)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: ingestion: store must not be nil", rag.ErrConfig)
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extractor.NewPDFExtractor()
	}
	if cfg.Chunker == nil {
		c, err := chunker.New(chunker.DefaultSize, chunker.DefaultOverlap)
		if err != nil {
			return nil, err
		}
		cfg.Chunker = c
	}
	if cfg.Limits == (budget.Limits{}) {
		cfg.Limits = budget.DefaultLimits()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		blobs:     cfg.Blobs,
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		extractor: cfg.Extractor,
		chunker:   cfg.Chunker,
		limits:    cfg.Limits,
		now:       cfg.Now,
	}, nil
}

// staged is a chunk waiting for its embedding.
type staged struct {
	id    string
	text  string
	page  int
	index int
}

// Ingest processes one document. Every stage fails fast; chunks are written
// with a single upsert so a failure before that point leaves the store
// untouched. Ingesting the same path twice creates two documents.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	log := logging.FromContext(ctx).With(slog.String("source_path", req.SourcePath))

	category, err := rag.ParseCategory(string(req.Category))
	if err != nil {
		return Result{}, err
	}
	// Extras are merged last, so a category override must pass the same check.
	if v, ok := req.Metadata[rag.FieldCategory]; ok {
		if category, err = rag.ParseCategory(fmt.Sprint(v)); err != nil {
			return Result{}, err
		}
	}
	if req.SourcePath == "" {
		return Result{}, fmt.Errorf("%w: ingestion: source path is required", rag.ErrConfig)
	}

	start := time.Now()

	data, err := p.blobs.Download(ctx, req.SourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: download %s: %w", req.SourcePath, err)
	}

	pages, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: extract %s: %w", req.SourcePath, err)
	}
	if len(pages) == 0 {
		return Result{}, fmt.Errorf("%w: ingestion: no text extracted from %s", rag.ErrEmptyContent, req.SourcePath)
	}
	extractDur := time.Since(start)

	filename := path.Base(req.SourcePath)
	uploaded := p.now()
	docID := documentID(filename, category, uploaded)

	var chunks []staged
	for _, pg := range pages {
		for i, c := range p.chunker.Split(pg.Text) {
			chunks = append(chunks, staged{
				id:    chunkID(docID, pg.Number, i),
				text:  c.Text,
				page:  pg.Number,
				index: i,
			})
		}
	}
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("%w: ingestion: %s produced no chunks", rag.ErrEmptyContent, req.SourcePath)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.text
	}

	report := budget.Check(texts, p.limits)
	if !report.WithinLimits() {
		log.Warn("ingestion: embedding request exceeds provider limits",
			slog.Int("estimated_tokens", report.Tokens),
			slog.Int("largest_chunk_tokens", report.Largest),
			slog.Int("oversized_chunks", len(report.Oversized)),
		)
	}

	embedStart := time.Now()
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: embed %s: %w", req.SourcePath, err)
	}
	if len(vectors) != len(chunks) {
		return Result{}, fmt.Errorf("%w: ingestion: got %d embeddings for %d chunks",
			rag.ErrEmbedding, len(vectors), len(chunks))
	}
	embedDur := time.Since(embedStart)

	entries := make([]rag.Entry, len(chunks))
	for i, c := range chunks {
		md := map[string]any{
			rag.FieldDocumentID: docID,
			rag.FieldFilename:   filename,
			rag.FieldCategory:   category.String(),
			rag.FieldPageNumber: c.page,
			rag.FieldChunkIndex: c.index,
			rag.FieldSourcePath: req.SourcePath,
			rag.FieldUploadDate: rag.FormatTime(uploaded),
		}
		for k, v := range req.Metadata {
			if k == rag.FieldCategory {
				continue
			}
			md[k] = v
		}
		entries[i] = rag.Entry{ID: c.id, Vector: vectors[i], Text: c.text, Metadata: md}
	}

	upsertStart := time.Now()
	if err := p.store.Upsert(ctx, entries); err != nil {
		return Result{}, fmt.Errorf("ingestion: upsert %s: %w", req.SourcePath, err)
	}

	log.Info("ingestion: document ingested",
		slog.String("document_id", docID),
		slog.String("category", category.String()),
		slog.Int("pages", len(pages)),
		slog.Int("chunks", len(entries)),
		slog.Int("estimated_tokens", report.Tokens),
		slog.Duration("extract", extractDur),
		slog.Duration("embed", embedDur),
		slog.Duration("upsert", time.Since(upsertStart)),
		slog.Duration("total", time.Since(start)),
	)

	return Result{DocumentID: docID, Filename: filename, ChunkCount: len(entries)}, nil
}

// Failure records a document that could not be ingested by IngestAll.
type Failure struct {
	SourcePath string `json:"source_path"`
	Error      string `json:"error"`
}

// Summary reports the outcome of IngestAll.
type Summary struct {
	// Total is the number of PDF objects found under the prefix.
	Total int `json:"total"`
	// Ingested lists the successful results in listing order.
	Ingested []Result `json:"ingested"`
	// Failed lists the documents whose ingestion returned an error.
	Failed []Failure `json:"failed"`
	// Skipped lists PDFs whose category could not be determined.
	Skipped []string `json:"skipped"`
	// Chunks is the total number of chunks written.
	Chunks int `json:"chunks"`
}

// IngestAll ingests every PDF under prefix. When category is empty each
// object's category is inferred from its folder (see InferCategory) and
// objects without one are skipped. Per-document failures are recorded and do
// not stop the run; only listing failures and context cancellation abort it.
func (p *Pipeline) IngestAll(ctx context.Context, prefix string, category rag.Category, metadata map[string]any) (Summary, error) {
	log := logging.FromContext(ctx)

	if category != "" {
		c, err := rag.ParseCategory(string(category))
		if err != nil {
			return Summary{}, err
		}
		category = c
	}

	names, err := p.blobs.List(ctx, prefix)
	if err != nil {
		return Summary{}, fmt.Errorf("ingestion: list %q: %w", prefix, err)
	}

	sum := Summary{Ingested: []Result{}, Failed: []Failure{}, Skipped: []string{}}
	for _, name := range names {
		if !isPDF(name) {
			continue
		}
		sum.Total++

		c := category
		if c == "" {
			inferred, ok := InferCategory(name)
			if !ok {
				log.Warn("ingestion: skipping document without category folder", slog.String("source_path", name))
				sum.Skipped = append(sum.Skipped, name)
				continue
			}
			c = inferred
		}

		res, err := p.Ingest(ctx, Request{SourcePath: name, Category: c, Metadata: metadata})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, fmt.Errorf("ingestion: batch interrupted: %w", errors.Join(ctxErr, err))
			}
			log.Error("ingestion: document failed", slog.String("source_path", name), slog.Any("error", err))
			sum.Failed = append(sum.Failed, Failure{SourcePath: name, Error: err.Error()})
			continue
		}
		sum.Ingested = append(sum.Ingested, res)
		sum.Chunks += res.ChunkCount
	}

	log.Info("ingestion: batch complete",
		slog.String("prefix", prefix),
		slog.Int("total", sum.Total),
		slog.Int("ingested", len(sum.Ingested)),
		slog.Int("failed", len(sum.Failed)),
		slog.Int("skipped", len(sum.Skipped)),
		slog.Int("chunks", sum.Chunks),
	)
	return sum, nil
}

// documentID derives the document identifier from the filename, category and
// ingestion time, so re-ingesting the same file yields a new document.
func documentID(filename string, category rag.Category, at time.Time) string {
	h := sha256.Sum256([]byte(filename + "|" + category.String() + "|" + at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])[:documentIDLength]
}

// chunkID returns the identifier of chunk index on page.
func chunkID(docID string, page, index int) string {
	return fmt.Sprintf("%s_page%d_chunk%d", docID, page, index)
}
