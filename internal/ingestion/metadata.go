package ingestion

import (
	"path"
	"strings"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

// folderCategories maps the bucket folder names in use to their category.
// The upload endpoint writes to pdfs/{category}/, older batches live under
// anuncios/ and organico/.
var folderCategories = map[string]rag.Category{
	"anuncio":   rag.CategoryAnuncio,
	"anuncios":  rag.CategoryAnuncio,
	"organico":  rag.CategoryOrganico,
	"organicos": rag.CategoryOrganico,
}

// InferCategory returns the category implied by the folders of an object
// path, or false when no folder names a category. The innermost matching
// folder wins.
//
//	anuncios/edital.pdf          -> anuncio
//	pdfs/organico/20240101_x.pdf -> organico
//	misc/x.pdf                   -> false
func InferCategory(objectPath string) (rag.Category, bool) {
	segments := strings.Split(strings.ToLower(path.Dir(strings.TrimPrefix(objectPath, "/"))), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if c, ok := folderCategories[segments[i]]; ok {
			return c, true
		}
	}
	return "", false
}

// isPDF reports whether the object name has a .pdf extension.
func isPDF(name string) bool {
	return strings.EqualFold(path.Ext(name), ".pdf")
}
