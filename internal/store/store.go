// Package store provides the embedded, file-backed vector store. Chunks,
// their embeddings, metadata and text live in a single SQLite database, so the
// service runs without any external vector database. Similarity search is an
// exact cosine scan over the rows that survive the metadata filter, which is
// adequate for the document volumes of a single-host deployment.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/agrofinder-go/internal/rag"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// metaDimensionKey is the meta table row holding the embedding dimension the
// database was created with.
const metaDimensionKey = "dimension"

// fieldName restricts filter keys to plain identifiers so they can be
// embedded in a JSON path.
var fieldName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Config configures the embedded store.
type Config struct {
	// Path is the database file. Use ":memory:" for an in-memory database.
	Path string

	// Dimension is the embedding length every stored vector must have.
	Dimension int

	// Logger receives lifecycle events. Defaults to slog.Default.
	Logger *slog.Logger
}

// SQLiteStore is a rag.VectorStore backed by a local SQLite database. Scores
// are cosine distances. Equality filters are evaluated in SQL; range filters
// are not supported and are ignored.
type SQLiteStore struct {
	cfg Config

	// mu guards db.
	mu sync.Mutex
	// db is opened on the first EnsureReady call.
	db *sql.DB
}

// compile-time interface check
var _ rag.VectorStore = (*SQLiteStore)(nil)

// DefaultDBPath returns the default path for the vector database.
// It resolves to ~/.agrofinder/vectors.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".agrofinder")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "vectors.db"), nil
}

// New returns an unopened store. The database is opened by EnsureReady.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: store: path is required", rag.ErrConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: store: dimension must be positive", rag.ErrConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// EnsureReady opens the database, runs the schema migration and checks the
// recorded dimension. A database created with another dimension fails with
// rag.ErrDimensionMismatch. Safe to call repeatedly.
func (s *SQLiteStore) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	if dir := filepath.Dir(s.cfg.Path); s.cfg.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("%w: store: could not create %s: %w", rag.ErrStore, dir, err)
		}
	}

	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := s.cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("%w: store: open %s: %w", rag.ErrStore, s.cfg.Path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	if err := checkDimension(ctx, db, s.cfg.Dimension); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.cfg.Logger.Debug("store: ready", slog.String("path", s.cfg.Path), slog.Int("dimension", s.cfg.Dimension))
	return nil
}

// migrate creates the schema if it does not already exist.
func migrate(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT    PRIMARY KEY,
    vector      BLOB    NOT NULL,
    text        TEXT    NOT NULL,
    metadata    TEXT    NOT NULL,  -- JSON object
    updated_at  INTEGER NOT NULL   -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: store: migrate: %w", rag.ErrStore, err)
	}
	return nil
}

// checkDimension records dim on first use and rejects a database created with
// a different one.
func checkDimension(ctx context.Context, db *sql.DB, dim int) error {
	var stored string
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaDimensionKey).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, metaDimensionKey, strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("%w: store: record dimension: %w", rag.ErrStore, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: store: read dimension: %w", rag.ErrStore, err)
	}

	n, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("%w: store: corrupt dimension %q", rag.ErrStore, stored)
	}
	if n != dim {
		return fmt.Errorf("%w: database has dimension %d, embedder produces %d", rag.ErrDimensionMismatch, n, dim)
	}
	return nil
}

// conn returns the open database, failing if EnsureReady has not succeeded.
func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("%w: store: not ready, call EnsureReady first", rag.ErrStore)
	}
	return s.db, nil
}

// Upsert inserts or overwrites entries by id in a single transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, entries []rag.Entry) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	for _, e := range entries {
		if len(e.Vector) != s.cfg.Dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, store expects %d",
				rag.ErrDimensionMismatch, e.ID, len(e.Vector), s.cfg.Dimension)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: store: begin: %w", rag.ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	const q = `
INSERT INTO chunks (id, vector, text, metadata, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    vector = excluded.vector,
    text = excluded.text,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: store: prepare upsert: %w", rag.ErrStore, err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, e := range entries {
		md := e.Metadata
		if md == nil {
			md = map[string]any{}
		}
		raw, err := json.Marshal(md)
		if err != nil {
			return fmt.Errorf("%w: store: encode metadata for %s: %w", rag.ErrStore, e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, encodeVector(e.Vector), e.Text, string(raw), now); err != nil {
			return fmt.Errorf("%w: store: upsert %s: %w", rag.ErrStore, e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: store: commit: %w", rag.ErrStore, err)
	}
	return nil
}

// Query scans the rows matching the equality filter and returns the topK
// nearest by cosine distance, ties broken by id. Range conditions in filter
// are ignored; callers apply them after the query.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, topK int, filter rag.Filter, includeMetadata bool) ([]rag.Match, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if len(vector) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, store expects %d",
			rag.ErrDimensionMismatch, len(vector), s.cfg.Dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, vector, text, metadata FROM chunks`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: store: query: %w", rag.ErrStore, err)
	}
	defer rows.Close()

	var matches []rag.Match
	for rows.Next() {
		var (
			id, text, raw string
			blob          []byte
		)
		if err := rows.Scan(&id, &blob, &text, &raw); err != nil {
			return nil, fmt.Errorf("%w: store: query scan: %w", rag.ErrStore, err)
		}
		m := rag.Match{
			ID:    id,
			Text:  text,
			Score: cosineDistance(vector, decodeVector(blob)),
			Kind:  rag.ScoreDistance,
		}
		if includeMetadata {
			if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
				return nil, fmt.Errorf("%w: store: decode metadata for %s: %w", rag.ErrStore, id, err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: store: query rows: %w", rag.ErrStore, err)
	}

	slices.SortStableFunc(matches, func(a, b rag.Match) int {
		if a.Score != b.Score {
			if a.Score < b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// whereClause turns the equality part of a filter into a SQL predicate over
// the metadata JSON. Values are compared as text.
func whereClause(f rag.Filter) (string, []any, error) {
	if len(f.Equals) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(f.Equals))
	for k := range f.Equals {
		if !fieldName.MatchString(k) {
			return "", nil, fmt.Errorf("%w: store: invalid filter field %q", rag.ErrStore, k)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		conds = append(conds, `CAST(json_extract(metadata, ?) AS TEXT) = ?`)
		args = append(args, "$."+k, f.Equals[k])
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// Delete removes chunks by id. Unknown ids are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM chunks WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("%w: store: delete: %w", rag.ErrStore, err)
	}
	return nil
}

// Stats returns the number of stored chunks and the dimension.
func (s *SQLiteStore) Stats(ctx context.Context) (rag.Stats, error) {
	db, err := s.conn()
	if err != nil {
		return rag.Stats{}, err
	}

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return rag.Stats{}, fmt.Errorf("%w: store: count: %w", rag.ErrStore, err)
	}
	return rag.Stats{
		Backend:    "sqlite",
		Collection: s.cfg.Path,
		Count:      n,
		Dimension:  s.cfg.Dimension,
	}, nil
}

// Capabilities reports that range filters are not evaluated natively.
func (s *SQLiteStore) Capabilities() rag.Capabilities {
	return rag.Capabilities{RangeFilters: false}
}

// Ping opens the store if needed and verifies the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.EnsureReady(ctx); err != nil {
		return err
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineDistance returns 1 - cos(a, b) in [0, 2]. A zero vector is treated as
// orthogonal to everything.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}
