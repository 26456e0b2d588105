package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxSummaryRunes   = 500
	minParagraphRunes = 40
)

var structuredDateFields = map[string]*regexp.Regexp{
	"validFrom":       regexp.MustCompile(`"validFrom"\s*:\s*"([^"]+)"`),
	"validThrough":    regexp.MustCompile(`"validThrough"\s*:\s*"([^"]+)"`),
	"priceValidUntil": regexp.MustCompile(`"priceValidUntil"\s*:\s*"([^"]+)"`),
}

// OfferDetails is what can be read off a promotion page.
type OfferDetails struct {
	Title   string
	Summary string
	Start   *time.Time
	End     *time.Time
}

// Offer extracts the offer title, summary and validity window. Structured
// tags (Open Graph, Twitter cards, schema.org) win over heading and paragraph
// heuristics. Dates that cannot be parsed are left nil.
func Offer(html string) OfferDetails {
	doc, err := Parse(html)
	if err != nil {
		return OfferDetails{}
	}
	return OfferFromDocument(doc)
}

// OfferFromDocument is Offer over an already parsed document.
func OfferFromDocument(doc *goquery.Document) OfferDetails {
	out := OfferDetails{
		Title:   offerTitle(doc),
		Summary: offerSummary(doc),
	}
	out.Start, out.End = structuredDates(doc)
	if out.Start == nil || out.End == nil {
		start, end := DateRange(clean(doc.Find("body").Text()))
		if out.Start == nil {
			out.Start = start
		}
		if out.End == nil {
			out.End = end
		}
	}
	return out
}

func offerTitle(doc *goquery.Document) string {
	if t := metaContent(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`); t != "" {
		return t
	}
	for _, sel := range []string{"h1", "h2", "title"} {
		if t := clean(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func offerSummary(doc *goquery.Document) string {
	summary := metaContent(doc,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
		`meta[name="description"]`,
	)
	if summary == "" {
		doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := clean(sel.Text())
			if len([]rune(text)) >= minParagraphRunes {
				summary = text
				return false
			}
			return true
		})
	}
	return truncateRunes(summary, maxSummaryRunes)
}

func structuredDates(doc *goquery.Document) (start, end *time.Time) {
	start = itempropDate(doc, "validFrom")
	end = itempropDate(doc, "validThrough")
	if end == nil {
		end = itempropDate(doc, "priceValidUntil")
	}
	var scripts strings.Builder
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		scripts.WriteString(sel.Text())
	})
	blob := scripts.String()
	if blob == "" {
		return start, end
	}
	if start == nil {
		start = jsonDate(blob, "validFrom")
	}
	if end == nil {
		end = jsonDate(blob, "validThrough")
	}
	if end == nil {
		end = jsonDate(blob, "priceValidUntil")
	}
	return start, end
}

func itempropDate(doc *goquery.Document, prop string) *time.Time {
	sel := doc.Find(`[itemprop="` + prop + `"]`).First()
	if sel.Length() == 0 {
		return nil
	}
	for _, attr := range []string{"content", "datetime"} {
		if v, ok := sel.Attr(attr); ok {
			if t := datePtr(v); t != nil {
				return t
			}
		}
	}
	return datePtr(sel.Text())
}

func jsonDate(blob, field string) *time.Time {
	m := structuredDateFields[field].FindStringSubmatch(blob)
	if m == nil {
		return nil
	}
	return datePtr(m[1])
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit]))
}
