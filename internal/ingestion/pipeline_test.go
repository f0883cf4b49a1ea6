package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/agrofinder-go/internal/chunker"
	"github.com/54b3r/agrofinder-go/internal/extractor"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// memBlobs is an in-memory blob.Store.
type memBlobs struct {
	objects map[string][]byte
	listErr error
}

func (m *memBlobs) Download(_ context.Context, name string) ([]byte, error) {
	b, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rag.ErrNotFound, name)
	}
	return b, nil
}

func (m *memBlobs) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	b, err := m.Download(ctx, name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

func (m *memBlobs) Exists(_ context.Context, name string) (bool, error) {
	_, ok := m.objects[name]
	return ok, nil
}

func (m *memBlobs) Upload(_ context.Context, r io.Reader, name string) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.objects[name] = b
	return "mem://" + name, nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []string
	for n := range m.objects {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

// pageExtractor treats each form-feed separated section of the input as a
// page and drops blank ones, like the PDF extractor does.
type pageExtractor struct{ err error }

func (e pageExtractor) Extract(_ context.Context, data []byte) ([]extractor.Page, error) {
	if e.err != nil {
		return nil, e.err
	}
	if strings.HasPrefix(string(data), "corrupt") {
		return nil, fmt.Errorf("%w: bad header", rag.ErrExtraction)
	}
	var pages []extractor.Page
	for i, text := range strings.Split(string(data), "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, extractor.Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

// countingEmbedder returns [len(text), 1] for each text.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
	short bool
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	n := len(texts)
	if e.short {
		n--
	}
	out := make([][]float32, n)
	for i := range n {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return 2 }

// recordingStore keeps every upserted entry.
type recordingStore struct {
	mu      sync.Mutex
	upserts int
	entries []rag.Entry
	err     error
}

func (s *recordingStore) EnsureReady(context.Context) error { return nil }
func (s *recordingStore) Upsert(_ context.Context, entries []rag.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.upserts++
	s.entries = append(s.entries, entries...)
	return nil
}
func (s *recordingStore) Query(context.Context, []float32, int, rag.Filter, bool) ([]rag.Match, error) {
	return nil, nil
}
func (s *recordingStore) Delete(context.Context, []string) error { return nil }
func (s *recordingStore) Stats(context.Context) (rag.Stats, error) {
	return rag.Stats{Count: int64(len(s.entries))}, nil
}
func (s *recordingStore) Capabilities() rag.Capabilities { return rag.Capabilities{} }
func (s *recordingStore) Close() error                   { return nil }

// fixture wires a pipeline with fakes and a clock that advances one second
// per call.
type fixture struct {
	blobs    *memBlobs
	embedder *countingEmbedder
	store    *recordingStore
	pipeline *Pipeline
}

func newFixture(t *testing.T, objects map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		blobs:    &memBlobs{objects: map[string][]byte{}},
		embedder: &countingEmbedder{},
		store:    &recordingStore{},
	}
	for k, v := range objects {
		f.blobs.objects[k] = []byte(v)
	}

	c, err := chunker.New(20, 5)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	var mu sync.Mutex
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewPipeline(Config{
		Blobs:     f.blobs,
		Embedder:  f.embedder,
		Store:     f.store,
		Extractor: pageExtractor{},
		Chunker:   c,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	f.pipeline = p
	return f
}

func Test_NewPipeline_RequiresDependencies(t *testing.T) {
	t.Parallel()
	cases := []Config{
		{Embedder: &countingEmbedder{}, Store: &recordingStore{}},
		{Blobs: &memBlobs{}, Store: &recordingStore{}},
		{Blobs: &memBlobs{}, Embedder: &countingEmbedder{}},
	}
	for i, cfg := range cases {
		if _, err := NewPipeline(cfg); !errors.Is(err, rag.ErrConfig) {
			t.Errorf("case %d: got %v, want ErrConfig", i, err)
		}
	}
}

func Test_Ingest_TwoPageDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"anuncios/edital.pdf": "milho soja trigo\f  \fcafe arroz feijao",
	})

	res, err := f.pipeline.Ingest(context.Background(), Request{
		SourcePath: "anuncios/edital.pdf",
		Category:   "ANUNCIO",
		Metadata:   map[string]any{"indexed_by": "test", rag.FieldFilename: "override.pdf"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(res.DocumentID) != documentIDLength {
		t.Errorf("DocumentID %q has length %d", res.DocumentID, len(res.DocumentID))
	}
	if res.Filename != "edital.pdf" {
		t.Errorf("Filename = %q", res.Filename)
	}
	if res.ChunkCount != 2 || len(f.store.entries) != 2 {
		t.Fatalf("ChunkCount = %d, entries = %d; want 2", res.ChunkCount, len(f.store.entries))
	}
	if f.embedder.calls != 1 || f.store.upserts != 1 {
		t.Errorf("embed calls = %d, upserts = %d; want 1 each", f.embedder.calls, f.store.upserts)
	}

	wantIDs := []string{res.DocumentID + "_page1_chunk0", res.DocumentID + "_page3_chunk0"}
	for i, e := range f.store.entries {
		if e.ID != wantIDs[i] {
			t.Errorf("entry %d id = %q, want %q", i, e.ID, wantIDs[i])
		}
		md := e.Metadata
		if md[rag.FieldDocumentID] != res.DocumentID {
			t.Errorf("entry %d document_id = %v", i, md[rag.FieldDocumentID])
		}
		if md[rag.FieldCategory] != "anuncio" {
			t.Errorf("entry %d category = %v", i, md[rag.FieldCategory])
		}
		if md[rag.FieldSourcePath] != "anuncios/edital.pdf" {
			t.Errorf("entry %d source_path = %v", i, md[rag.FieldSourcePath])
		}
		if md[rag.FieldUploadDate] != "2024-03-01T12:00:01Z" {
			t.Errorf("entry %d upload_date = %v", i, md[rag.FieldUploadDate])
		}
		if md["indexed_by"] != "test" || md[rag.FieldFilename] != "override.pdf" {
			t.Errorf("entry %d extras not merged last: %v", i, md)
		}
		if md[rag.FieldChunkIndex] != 0 {
			t.Errorf("entry %d chunk_index = %v", i, md[rag.FieldChunkIndex])
		}
		if len(e.Vector) != 2 || e.Vector[0] != float32(len(e.Text)) {
			t.Errorf("entry %d vector %v not aligned with text %q", i, e.Vector, e.Text)
		}
	}
	if f.store.entries[0].Metadata[rag.FieldPageNumber] != 1 || f.store.entries[1].Metadata[rag.FieldPageNumber] != 3 {
		t.Error("page numbers not preserved")
	}
}

func Test_Ingest_MultipleChunksPerPage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"organico/guia.pdf": "alpha beta gamma delta epsilon zeta eta theta iota kappa",
	})

	res, err := f.pipeline.Ingest(context.Background(), Request{SourcePath: "organico/guia.pdf", Category: rag.CategoryOrganico})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.ChunkCount < 2 {
		t.Fatalf("ChunkCount = %d, want several", res.ChunkCount)
	}
	for i, e := range f.store.entries {
		want := fmt.Sprintf("%s_page1_chunk%d", res.DocumentID, i)
		if e.ID != want {
			t.Errorf("entry %d id = %q, want %q", i, e.ID, want)
		}
	}
}

func Test_Ingest_TwiceCreatesTwoDocuments(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"anuncios/a.pdf": "texto do anuncio"})
	ctx := context.Background()
	req := Request{SourcePath: "anuncios/a.pdf", Category: rag.CategoryAnuncio}

	first, err := f.pipeline.Ingest(ctx, req)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := f.pipeline.Ingest(ctx, req)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if first.DocumentID == second.DocumentID {
		t.Errorf("both ingestions got document id %q", first.DocumentID)
	}
	if len(f.store.entries) != first.ChunkCount+second.ChunkCount {
		t.Errorf("store holds %d entries, want %d", len(f.store.entries), first.ChunkCount+second.ChunkCount)
	}
}

func Test_Ingest_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		cat     rag.Category
		setup   func(*fixture)
		wantErr error
	}{
		{name: "not found", path: "missing.pdf", cat: rag.CategoryAnuncio, wantErr: rag.ErrNotFound},
		{name: "invalid category", path: "a.pdf", cat: "outro", wantErr: rag.ErrInvalidCategory},
		{name: "empty path", path: "", cat: rag.CategoryAnuncio, wantErr: rag.ErrConfig},
		{name: "blank content", path: "blank.pdf", cat: rag.CategoryAnuncio, wantErr: rag.ErrEmptyContent},
		{name: "unreadable", path: "corrupt.pdf", cat: rag.CategoryAnuncio, wantErr: rag.ErrExtraction},
		{
			name: "embedding failure", path: "a.pdf", cat: rag.CategoryAnuncio, wantErr: rag.ErrEmbedding,
			setup: func(f *fixture) { f.embedder.err = fmt.Errorf("%w: quota", rag.ErrEmbedding) },
		},
		{
			name: "short embedding batch", path: "a.pdf", cat: rag.CategoryAnuncio, wantErr: rag.ErrEmbedding,
			setup: func(f *fixture) { f.embedder.short = true },
		},
		{
			name: "store failure", path: "a.pdf", cat: rag.CategoryAnuncio, wantErr: rag.ErrStore,
			setup: func(f *fixture) { f.store.err = fmt.Errorf("%w: disk full", rag.ErrStore) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, map[string]string{
				"a.pdf":       "conteudo valido",
				"blank.pdf":   " \f \n ",
				"corrupt.pdf": "corrupt",
			})
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.pipeline.Ingest(context.Background(), Request{SourcePath: tt.path, Category: tt.cat})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if f.store.upserts != 0 {
				t.Errorf("store was written despite failure")
			}
		})
	}
}

func Test_Ingest_CategoryOverrideInMetadata(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]string{"a.pdf": "conteudo valido"})
	_, err := f.pipeline.Ingest(context.Background(), Request{
		SourcePath: "a.pdf",
		Category:   rag.CategoryAnuncio,
		Metadata:   map[string]any{rag.FieldCategory: "foo"},
	})
	if !errors.Is(err, rag.ErrInvalidCategory) {
		t.Fatalf("got %v, want ErrInvalidCategory", err)
	}
	if f.store.upserts != 0 {
		t.Errorf("store was written despite invalid category")
	}

	if _, err := f.pipeline.Ingest(context.Background(), Request{
		SourcePath: "a.pdf",
		Category:   rag.CategoryAnuncio,
		Metadata:   map[string]any{rag.FieldCategory: "Organico"},
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	for _, e := range f.store.entries {
		if got := e.Metadata[rag.FieldCategory]; got != rag.CategoryOrganico.String() {
			t.Errorf("entry %s category = %v, want %s", e.ID, got, rag.CategoryOrganico)
		}
	}
}

func Test_IngestAll_InfersCategoriesAndContinues(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"anuncios/a.pdf":     "edital de compra",
		"anuncios/notas.txt": "ignored",
		"organico/b.pdf":     "manejo organico",
		"organico/c.pdf":     "corrupt",
		"misc/d.pdf":         "sem categoria",
	})

	sum, err := f.pipeline.IngestAll(context.Background(), "", "", map[string]any{"indexed_by": "batch_script"})
	if err != nil {
		t.Fatalf("IngestAll: %v", err)
	}
	if sum.Total != 4 {
		t.Errorf("Total = %d, want 4", sum.Total)
	}
	if len(sum.Ingested) != 2 {
		t.Errorf("Ingested = %+v, want 2", sum.Ingested)
	}
	if len(sum.Failed) != 1 || sum.Failed[0].SourcePath != "organico/c.pdf" {
		t.Errorf("Failed = %+v", sum.Failed)
	}
	if len(sum.Skipped) != 1 || sum.Skipped[0] != "misc/d.pdf" {
		t.Errorf("Skipped = %v", sum.Skipped)
	}
	if sum.Chunks != len(f.store.entries) {
		t.Errorf("Chunks = %d, store has %d", sum.Chunks, len(f.store.entries))
	}
	for _, e := range f.store.entries {
		want := "anuncio"
		if strings.HasPrefix(e.Metadata[rag.FieldSourcePath].(string), "organico/") {
			want = "organico"
		}
		if e.Metadata[rag.FieldCategory] != want {
			t.Errorf("%s category = %v, want %s", e.ID, e.Metadata[rag.FieldCategory], want)
		}
		if e.Metadata["indexed_by"] != "batch_script" {
			t.Errorf("%s missing batch metadata", e.ID)
		}
	}
}

func Test_IngestAll_FixedCategory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"lote/a.pdf": "um",
		"lote/b.pdf": "dois",
	})

	sum, err := f.pipeline.IngestAll(context.Background(), "lote/", rag.CategoryOrganico, nil)
	if err != nil {
		t.Fatalf("IngestAll: %v", err)
	}
	if len(sum.Ingested) != 2 || len(sum.Skipped) != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func Test_IngestAll_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if _, err := f.pipeline.IngestAll(context.Background(), "", "outro", nil); !errors.Is(err, rag.ErrInvalidCategory) {
		t.Errorf("invalid category: got %v", err)
	}

	listErr := errors.New("permission denied")
	f.blobs.listErr = listErr
	if _, err := f.pipeline.IngestAll(context.Background(), "", "", nil); !errors.Is(err, listErr) {
		t.Errorf("list failure: got %v", err)
	}
}

func Test_IngestAll_StopsOnCancellation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"anuncios/a.pdf": "x", "anuncios/b.pdf": "y"})
	ctx, cancel := context.WithCancel(context.Background())
	f.embedder.err = context.Canceled
	cancel()

	_, err := f.pipeline.IngestAll(ctx, "", "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func Test_DocumentID(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := documentID("a.pdf", rag.CategoryAnuncio, at)
	if a != documentID("a.pdf", rag.CategoryAnuncio, at) {
		t.Error("documentID is not deterministic")
	}
	if a == documentID("a.pdf", rag.CategoryOrganico, at) || a == documentID("a.pdf", rag.CategoryAnuncio, at.Add(time.Nanosecond)) {
		t.Error("documentID ignores category or time")
	}
	if chunkID("abc", 2, 3) != "abc_page2_chunk3" {
		t.Errorf("chunkID = %q", chunkID("abc", 2, 3))
	}
}
