package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

var skippedPrefixes = []string{"#", "javascript:", "mailto:", "tel:", "data:"}

// Links returns the absolute same-site links found in html, in document order
// and without duplicates. Relative references resolve against pageURL, or the
// document's <base href> when present. Fragments are dropped.
func Links(pageURL, html string) []string {
	doc, err := Parse(html)
	if err != nil {
		return nil
	}
	return LinksFromDocument(pageURL, doc)
}

// LinksFromDocument is Links over an already parsed document.
func LinksFromDocument(pageURL string, doc *goquery.Document) []string {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return nil
	}
	site := crawler.SiteDomain(pageURL)
	if site == "" {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = ref
		}
	}
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href], area[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || hasSkippedPrefix(href) {
			return
		}
		ref, err := base.Parse(href)
		if err != nil {
			return
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return
		}
		if crawler.SiteDomain(ref.String()) != site {
			return
		}
		ref.Fragment = ""
		ref.RawFragment = ""
		abs := ref.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func hasSkippedPrefix(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
