// Package blob stores and retrieves source documents. The production backend
// is a Google Cloud Storage bucket; a directory-backed store serves local
// development and tests.
package blob

import (
	"context"
	"io"
	"mime"
	"path"
)

// Store is the document blob store used by ingestion and the HTTP server.
type Store interface {
	// Download returns the object content. A missing object fails with
	// rag.ErrNotFound.
	Download(ctx context.Context, name string) ([]byte, error)

	// Open streams the object content. The caller closes the reader.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Exists reports whether the object exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Upload writes r to name and returns the object's URL.
	Upload(ctx context.Context, r io.Reader, name string) (string, error)

	// List returns the names of all objects under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// contentType guesses the MIME type from the object name.
func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
