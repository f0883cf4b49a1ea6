package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/54b3r/agrofinder-go/internal/ingestion"
	"github.com/54b3r/agrofinder-go/internal/logging"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// uploadTimestampLayout prefixes uploaded object names.
const uploadTimestampLayout = "20060102_150405"

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req searchRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(ctx, w, http.StatusBadRequest, "invalid request: query must not be blank")
		return
	}

	q := rag.Query{Text: req.Query, TopK: rag.DefaultTopK}
	if req.TopK != nil {
		q.TopK = *req.TopK
	}
	if req.Category != "" {
		c, err := rag.ParseCategory(req.Category)
		if err != nil {
			writeError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		q.Category = c
	}
	var err error
	if q.DateFrom, err = rag.ParseDateBound(req.DateFrom, false); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid date_from: "+err.Error())
		return
	}
	if q.DateTo, err = rag.ParseDateBound(req.DateTo, true); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid date_to: "+err.Error())
		return
	}

	results, err := s.search.Search(ctx, q)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.observeSearch("error", elapsed, 0)
		fail(ctx, w, "search failed", err)
		return
	}
	s.metrics.observeSearch("ok", elapsed, len(results))

	writeJSON(ctx, w, http.StatusOK, searchResponse{
		Query:            req.Query,
		Results:          results,
		TotalResults:     len(results),
		ProcessingTimeMs: math.Round(float64(elapsed.Microseconds())/10) / 100,
	})
}

// handleIngest handles POST /api/ingest for a document already in the blob
// store.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ingestRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	src := req.SourcePath
	if src == "" {
		src = req.GCSPath
	}
	category, err := rag.ParseCategory(req.Category)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	exists, err := s.blobs.Exists(ctx, src)
	if err != nil {
		fail(ctx, w, "ingest failed", err)
		return
	}
	if !exists {
		writeError(ctx, w, http.StatusNotFound, "document not found: "+src)
		return
	}

	res, ok := s.runIngest(w, r, ingestion.Request{SourcePath: src, Category: category, Metadata: req.Metadata})
	if !ok {
		return
	}

	writeJSON(ctx, w, http.StatusOK, ingestResponse{
		Success:    true,
		DocumentID: res.DocumentID,
		Filename:   res.Filename,
		NumChunks:  res.ChunkCount,
		Message:    fmt.Sprintf("document indexed: %d chunks created", res.ChunkCount),
	})
}

// handleUpload handles POST /api/upload: a multipart "file" field plus a
// category (form field or query parameter, default "anuncio"). The file is
// stored under pdfs/{category}/ and ingested immediately.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(ctx, w, status, "invalid upload: "+err.Error())
		return
	}
	defer file.Close()

	filename := path.Base(strings.ReplaceAll(hdr.Filename, `\`, "/"))
	if !strings.EqualFold(path.Ext(filename), ".pdf") {
		writeError(ctx, w, http.StatusBadRequest, "only PDF files are accepted")
		return
	}

	rawCategory := r.FormValue("category")
	if rawCategory == "" {
		rawCategory = string(rag.CategoryAnuncio)
	}
	category, err := rag.ParseCategory(rawCategory)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	stamp := s.now().Format(uploadTimestampLayout)
	objectPath := fmt.Sprintf("pdfs/%s/%s_%s", category, stamp, filename)

	counter := &countingReader{r: file}
	url, err := s.blobs.Upload(ctx, counter, objectPath)
	if err != nil {
		fail(ctx, w, "upload failed", err)
		return
	}
	log.Info("upload stored", slog.String("path", objectPath), slog.Int64("bytes", counter.n))

	res, ok := s.runIngest(w, r, ingestion.Request{
		SourcePath: objectPath,
		Category:   category,
		Metadata:   map[string]any{"indexed_by": "web_upload", "upload_timestamp": stamp},
	})
	if !ok {
		return
	}

	writeJSON(ctx, w, http.StatusOK, uploadResponse{
		Success:    true,
		Path:       objectPath,
		URL:        url,
		Filename:   filename,
		FileSize:   counter.n,
		DocumentID: res.DocumentID,
		NumChunks:  res.ChunkCount,
		Message:    fmt.Sprintf("file uploaded and indexed: %d chunks created", res.ChunkCount),
	})
}

// runIngest calls the pipeline and records metrics. On failure it writes
// the error response and returns false.
func (s *Server) runIngest(w http.ResponseWriter, r *http.Request, req ingestion.Request) (ingestion.Result, bool) {
	start := time.Now()
	res, err := s.ingest.Ingest(r.Context(), req)
	if err != nil {
		s.metrics.observeIngest("error", time.Since(start), 0)
		fail(r.Context(), w, "ingestion failed", err)
		return ingestion.Result{}, false
	}
	s.metrics.observeIngest("ok", time.Since(start), res.ChunkCount)
	return res, true
}

// handleDocument handles GET /api/document/{path...} by streaming the
// object from the blob store.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("path")
	if name == "" {
		writeError(ctx, w, http.StatusBadRequest, "document path is required")
		return
	}

	rc, err := s.blobs.Open(ctx, name)
	if err != nil {
		fail(ctx, w, "document unavailable", err)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": path.Base(name)}))
	if _, err := io.Copy(w, rc); err != nil {
		logging.FromContext(ctx).Warn("document stream interrupted", slog.String("path", name), slog.Any("error", err))
	}
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st, err := s.search.IndexStats(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("stats failed", slog.Any("error", err))
		writeJSON(ctx, w, http.StatusServiceUnavailable, statsResponse{
			Success:           false,
			VectorStoreStatus: "unavailable",
			Environment:       s.cfg.Environment,
			Error:             err.Error(),
			Timestamp:         s.now().UTC(),
		})
		return
	}

	writeJSON(ctx, w, http.StatusOK, statsResponse{
		Success:           true,
		TotalDocuments:    st.Count,
		VectorStoreStatus: "healthy",
		Backend:           st.Backend,
		Collection:        st.Collection,
		Dimension:         st.Dimension,
		Environment:       s.cfg.Environment,
		Timestamp:         s.now().UTC(),
	})
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
