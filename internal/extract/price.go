package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	jsonPricePattern     = regexp.MustCompile(`"(?:price|lowPrice)"\s*:\s*"?([0-9][0-9,]*(?:\.[0-9]+)?)"?`)
	currencyPricePattern = regexp.MustCompile(`[£$€]\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	plainAmountPattern   = regexp.MustCompile(`([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
)

// Price returns a heuristic price figure for the page. Sources are tried in
// order: embedded JSON (JSON-LD or inline state), itemprop="price", price
// meta tags, then currency amounts inside price-classed elements.
func Price(html string) (float64, bool) {
	doc, err := Parse(html)
	if err != nil {
		return 0, false
	}
	return PriceFromDocument(doc)
}

// PriceFromDocument is Price over an already parsed document.
func PriceFromDocument(doc *goquery.Document) (float64, bool) {
	var (
		price float64
		found bool
	)
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		typ := strings.ToLower(sel.AttrOr("type", ""))
		if typ != "" && !strings.Contains(typ, "json") && !strings.Contains(typ, "javascript") {
			return true
		}
		for _, m := range jsonPricePattern.FindAllStringSubmatch(sel.Text(), -1) {
			if v, ok := parseAmount(m[1]); ok {
				price, found = v, true
				return false
			}
		}
		return true
	})
	if found {
		return price, true
	}

	doc.Find(`[itemprop="price"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw := sel.AttrOr("content", "")
		if raw == "" {
			raw = sel.Text()
		}
		if m := plainAmountPattern.FindStringSubmatch(raw); m != nil {
			price, found = parseAmount(m[1])
		}
		return !found
	})
	if found {
		return price, true
	}

	if raw := metaContent(doc, `meta[property="product:price:amount"]`, `meta[property="og:price:amount"]`); raw != "" {
		if v, ok := parseAmount(raw); ok {
			return v, true
		}
	}

	doc.Find(`[class*="price"], [class*="Price"], [id*="price"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if m := currencyPricePattern.FindStringSubmatch(sel.Text()); m != nil {
			price, found = parseAmount(m[1])
		}
		return !found
	})
	return price, found
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
