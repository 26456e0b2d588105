// Package detector decides when a directly fetched page is a script shell
// that has to be rendered in a browser before it can be classified.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

const defaultMinVisibleText = 512

// Mount points of client-rendered apps. A page whose mount point is empty
// has not been rendered yet.
var mountSelectors = []string{
	"#__next", "#__nuxt", "#root", "#app", "[data-reactroot]", "[ng-app]",
}

// Heuristic promotes pages that carry scripts but almost no visible text,
// or that expose an empty app mount point.
type Heuristic struct {
	MinVisibleText int
}

// NewHeuristic creates a detector. A non-positive threshold selects 512
// characters of visible text.
func NewHeuristic(minVisibleText int) *Heuristic {
	if minVisibleText <= 0 {
		minVisibleText = defaultMinVisibleText
	}
	return &Heuristic{MinVisibleText: minVisibleText}
}

// ShouldPromote reports whether res needs a browser render. Only successful
// responses are promoted.
func (h *Heuristic) ShouldPromote(res crawler.RenderResult) bool {
	if res.StatusCode != 200 {
		return false
	}
	if strings.TrimSpace(res.HTML) == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		return true
	}
	for _, sel := range mountSelectors {
		mount := doc.Find(sel).First()
		if mount.Length() == 1 && mount.Children().Length() == 0 && strings.TrimSpace(mount.Text()) == "" {
			return true
		}
	}
	scripts := doc.Find("script").Length()
	if scripts == 0 {
		return false
	}
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	visible := len(strings.Join(strings.Fields(body.Text()), " "))
	return visible < h.MinVisibleText
}
