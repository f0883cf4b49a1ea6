package rag

import (
	"fmt"
	"strings"
)

// Category is the closed document taxonomy.
type Category string

const (
	// CategoryAnuncio covers advertisement documents.
	CategoryAnuncio Category = "anuncio"
	// CategoryOrganico covers organic-production documents.
	CategoryOrganico Category = "organico"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryAnuncio, CategoryOrganico}

// ParseCategory converts s (case-insensitive, surrounding space ignored) into
// a Category. Anything outside the enumeration is rejected with
// ErrInvalidCategory.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryAnuncio:
		return CategoryAnuncio, nil
	case CategoryOrganico:
		return CategoryOrganico, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: anuncio, organico)", ErrInvalidCategory, s)
	}
}

// String returns the stored value of the category.
func (c Category) String() string { return string(c) }
