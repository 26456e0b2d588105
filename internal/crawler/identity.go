package crawler

import (
	"net/url"
	"path"
	"strings"
)

const (
	minProductIDLen = 4
	maxProductIDLen = 20
	// Segments with this many hyphens read as descriptive slugs, not SKUs.
	slugHyphenThreshold = 3
)

// ProductID extracts the product identifier from the last path segment of
// rawURL: a short alphanumeric token containing at least one digit. Category
// slugs and segments without digits yield "".
func ProductID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "." || segment == "/" || segment == "" {
		return ""
	}
	if ext := path.Ext(segment); ext != "" {
		segment = strings.TrimSuffix(segment, ext)
	}
	segment = strings.ToLower(segment)
	if strings.Count(segment, "-") >= slugHyphenThreshold {
		return ""
	}
	id := strings.NewReplacer("-", "", "_", "").Replace(segment)
	if len(id) < minProductIDLen || len(id) > maxProductIDLen {
		return ""
	}
	hasDigit := false
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z':
		default:
			return ""
		}
	}
	if !hasDigit {
		return ""
	}
	return id
}

// NormalizeID folds a catalog SKU into the same shape ProductID produces so
// "08L78-MKS-E00" and "08l78mkse00" compare equal.
func NormalizeID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
