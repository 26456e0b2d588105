package extract

import "github.com/PuerkitoBio/goquery"

// Title returns the page title: <title>, then og:title, then the first <h1>.
// Entities are decoded and whitespace collapsed.
func Title(html string) string {
	doc, err := Parse(html)
	if err != nil {
		return ""
	}
	return TitleFromDocument(doc)
}

// TitleFromDocument is Title over an already parsed document.
func TitleFromDocument(doc *goquery.Document) string {
	if t := clean(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t
	}
	return clean(doc.Find("h1").First().Text())
}
