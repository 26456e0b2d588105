// Package extract holds pure functions that pull links, titles, prices and
// offer details out of rendered HTML. Nothing here performs I/O or keeps
// state between calls.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Parse builds a goquery document from raw HTML. Malformed markup is
// tolerated by the HTML parser, so an error only surfaces for reader failures.
func Parse(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := clean(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}
