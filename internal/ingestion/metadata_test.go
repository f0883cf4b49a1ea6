package ingestion

import (
	"testing"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

func TestInferCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want rag.Category
		ok   bool
	}{
		{"anuncios/edital.pdf", rag.CategoryAnuncio, true},
		{"/organico/guia.pdf", rag.CategoryOrganico, true},
		{"pdfs/anuncio/20240101_120000_a.pdf", rag.CategoryAnuncio, true},
		{"pdfs/organico/x.pdf", rag.CategoryOrganico, true},
		{"ANUNCIOS/X.PDF", rag.CategoryAnuncio, true},
		{"organico/arquivo/anuncios/x.pdf", rag.CategoryAnuncio, true},
		{"misc/x.pdf", "", false},
		{"x.pdf", "", false},
		{"anuncios.pdf", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, ok := InferCategory(tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("InferCategory(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestIsPDF(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]bool{
		"a.pdf": true, "b/C.PDF": true, "a.txt": false, "pdf": false, "dir.pdf/x": false,
	} {
		if got := isPDF(name); got != want {
			t.Errorf("isPDF(%q) = %v, want %v", name, got, want)
		}
	}
}
