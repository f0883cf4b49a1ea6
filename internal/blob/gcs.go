package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/storage/v1"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	// Bucket is the bucket name. Required.
	Bucket string
	// Project is the GCP project, used only for logging and diagnostics.
	Project string
	// Options are passed to storage.NewService (credentials, endpoint).
	// Application Default Credentials are used when none are given.
	Options []option.ClientOption
}

// GCSStore implements Store on a Google Cloud Storage bucket.
type GCSStore struct {
	svc    *storage.Service
	bucket string
}

// compile-time interface check
var _ Store = (*GCSStore)(nil)

// NewGCSStore creates the storage client. Credentials are resolved lazily by
// the client on the first request.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs: bucket name is required", rag.ErrConfig)
	}
	svc, err := storage.NewService(ctx, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("%w: gcs: create client: %w", rag.ErrConfig, err)
	}
	return &GCSStore{svc: svc, bucket: cfg.Bucket}, nil
}

// Bucket returns the bucket name.
func (s *GCSStore) Bucket() string { return s.bucket }

// Open streams an object's media.
func (s *GCSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := s.svc.Objects.Get(s.bucket, name).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: gs://%s/%s", rag.ErrNotFound, s.bucket, name)
		}
		return nil, fmt.Errorf("gcs: download %s: %w", name, err)
	}
	return resp.Body, nil
}

// Download reads an object fully.
func (s *GCSStore) Download(ctx context.Context, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("gcs: read %s: %w", name, err)
	}
	return data, nil
}

// Exists fetches the object metadata.
func (s *GCSStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.svc.Objects.Get(s.bucket, name).Fields("name").Context(ctx).Do()
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("gcs: stat %s: %w", name, err)
	}
}

// Upload inserts an object and returns its gs:// URL.
func (s *GCSStore) Upload(ctx context.Context, r io.Reader, name string) (string, error) {
	ct := contentType(name)
	obj := &storage.Object{Name: name, ContentType: ct}
	if _, err := s.svc.Objects.Insert(s.bucket, obj).Media(r, googleapi.ContentType(ct)).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("gcs: upload %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// List pages through the objects under prefix.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	call := s.svc.Objects.List(s.bucket).Prefix(prefix).Fields("items(name)", "nextPageToken")
	err := call.Pages(ctx, func(page *storage.Objects) error {
		for _, o := range page.Items {
			names = append(names, o.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcs: list %q: %w", prefix, err)
	}
	slices.Sort(names)
	return names, nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *GCSStore) Ping(ctx context.Context) error {
	if _, err := s.svc.Buckets.Get(s.bucket).Fields("name").Context(ctx).Do(); err != nil {
		return fmt.Errorf("gcs: bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *GCSStore) Name() string { return "gcs" }

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
