package blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

// fakeGCS serves the subset of the JSON API used by GCSStore.
type fakeGCS struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]string
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	objPrefix := "/b/" + f.bucket + "/o"
	idx := strings.Index(p, objPrefix)

	switch {
	case idx < 0 && strings.HasSuffix(p, "/b/"+f.bucket) && r.Method == http.MethodGet:
		writeJSON(w, map[string]string{"name": f.bucket})

	case idx < 0:
		http.Error(w, `{"error":{"code":404,"message":"bucket not found"}}`, http.StatusNotFound)

	case r.Method == http.MethodPost:
		f.insert(w, r)

	case strings.HasSuffix(p, objPrefix):
		f.list(w, r)

	default:
		name := strings.TrimPrefix(p[idx+len(objPrefix):], "/")
		body, ok := f.objects[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"No such object"}}`)
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			_, _ = io.WriteString(w, body)
			return
		}
		writeJSON(w, map[string]string{"name": name})
	}
}

func (f *fakeGCS) insert(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	name := r.URL.Query().Get("name")
	body := string(data)
	// Multipart uploads carry the object metadata as the first part.
	if i := strings.Index(body, "%PDF"); i >= 0 {
		body = body[i:]
		if j := strings.Index(body, "\r\n--"); j >= 0 {
			body = body[:j]
		}
	}
	if name == "" {
		var meta struct {
			Name string `json:"name"`
		}
		if i := strings.Index(string(data), "{"); i >= 0 {
			dec := json.NewDecoder(strings.NewReader(string(data)[i:]))
			_ = dec.Decode(&meta)
		}
		name = meta.Name
	}
	f.objects[name] = body
	writeJSON(w, map[string]string{"name": name, "bucket": f.bucket})
}

func (f *fakeGCS) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	var names []string
	for n := range f.objects {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	// Serve one object per page to exercise pagination.
	names = sortedCopy(names)
	start := 0
	if page := r.URL.Query().Get("pageToken"); page != "" {
		start = max(slices.Index(names, page), 0)
	}
	resp := map[string]any{"kind": "storage#objects"}
	if start < len(names) {
		resp["items"] = []map[string]string{{"name": names[start]}}
		if start+1 < len(names) {
			resp["nextPageToken"] = names[start+1]
		}
	}
	writeJSON(w, resp)
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeGCSStore(t *testing.T, objects map[string]string) (*GCSStore, *fakeGCS) {
	t.Helper()
	fake := &fakeGCS{bucket: "agro-docs", objects: objects}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewGCSStore(context.Background(), GCSConfig{
		Bucket: "agro-docs",
		Options: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/storage/v1/"),
			option.WithoutAuthentication(),
			option.WithHTTPClient(srv.Client()),
		},
	})
	if err != nil {
		t.Fatalf("NewGCSStore: %v", err)
	}
	return s, fake
}

func Test_NewGCSStore_RequiresBucket(t *testing.T) {
	t.Parallel()
	if _, err := NewGCSStore(context.Background(), GCSConfig{}); !errors.Is(err, rag.ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func Test_GCSStore_Download(t *testing.T) {
	t.Parallel()
	s, _ := newFakeGCSStore(t, map[string]string{"anuncios/a.pdf": "%PDF-1.4 a"})
	ctx := context.Background()

	data, err := s.Download(ctx, "anuncios/a.pdf")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "%PDF-1.4 a" {
		t.Errorf("Download = %q", data)
	}

	if _, err := s.Download(ctx, "anuncios/missing.pdf"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("Download missing: got %v, want ErrNotFound", err)
	}
}

func Test_GCSStore_Exists(t *testing.T) {
	t.Parallel()
	s, _ := newFakeGCSStore(t, map[string]string{"a.pdf": "x"})
	ctx := context.Background()

	if ok, err := s.Exists(ctx, "a.pdf"); err != nil || !ok {
		t.Errorf("Exists(a.pdf) = %v, %v", ok, err)
	}
	if ok, err := s.Exists(ctx, "b.pdf"); err != nil || ok {
		t.Errorf("Exists(b.pdf) = %v, %v", ok, err)
	}
}

func Test_GCSStore_Upload(t *testing.T) {
	t.Parallel()
	s, fake := newFakeGCSStore(t, map[string]string{})

	url, err := s.Upload(context.Background(), strings.NewReader("%PDF-1.7 new"), "pdfs/organico/x.pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "gs://agro-docs/pdfs/organico/x.pdf" {
		t.Errorf("Upload url = %q", url)
	}
	fake.mu.Lock()
	_, ok := fake.objects["pdfs/organico/x.pdf"]
	fake.mu.Unlock()
	if !ok {
		t.Error("object was not stored")
	}
}

func Test_GCSStore_ListPages(t *testing.T) {
	t.Parallel()
	s, _ := newFakeGCSStore(t, map[string]string{
		"anuncios/b.pdf": "", "anuncios/a.pdf": "", "organico/c.pdf": "",
	})

	got, err := s.List(context.Background(), "anuncios/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(got, ",") != "anuncios/a.pdf,anuncios/b.pdf" {
		t.Errorf("List = %v", got)
	}
}

func Test_GCSStore_Ping(t *testing.T) {
	t.Parallel()
	s, _ := newFakeGCSStore(t, map[string]string{})
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if s.Name() != "gcs" || s.Bucket() != "agro-docs" {
		t.Errorf("Name/Bucket = %q/%q", s.Name(), s.Bucket())
	}
}
