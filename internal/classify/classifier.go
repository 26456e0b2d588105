// Package classify decides whether a crawled page is noise, an offer or a
// product. Every decision is a pure function of the URL, the page HTML and
// the immutable Rules the Classifier was built with.
package classify

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/supplier-discovery/internal/extract"
)

// Kind is the outcome of Classify.
type Kind string

const (
	KindOther    Kind = "other"
	KindAsset    Kind = "asset"
	KindExcluded Kind = "excluded"
	KindOffer    Kind = "offer"
	KindProduct  Kind = "product"
)

const (
	maxSlugHyphens  = 2
	maxShortPrefix  = 3
	minProductToken = 3
	maxProductToken = 24
)

var pageExtensions = map[string]struct{}{
	".html": {}, ".htm": {}, ".php": {}, ".asp": {}, ".aspx": {}, ".jsp": {},
}

var (
	jsonLDProduct = regexp.MustCompile(`"@type"\s*:\s*(?:\[[^\]]*)?"(?:Product|ProductModel|Vehicle|Motorcycle|Car)"`)
	specHeading   = regexp.MustCompile(`(?i)(specification|technical\s+data|tech\s+specs?)`)
	specSelectors = `[class*="specification"], [class*="specs"], [class*="tech-spec"], ` +
		`[id*="specification"], [id*="specs"], [id*="tech-spec"]`
)

// Classifier applies Rules. It holds no mutable state and is safe for
// concurrent use.
type Classifier struct {
	excluded map[string]struct{}
	offers   map[string]struct{}
	static   map[string]struct{}
	prefixes []string
	phrases  []string
}

// New builds a Classifier. Empty rule fields use DefaultRules.
func New(rules Rules) *Classifier {
	rules = rules.withDefaults()
	return &Classifier{
		excluded: toSet(rules.ExcludedKeywords),
		offers:   toSet(rules.OfferKeywords),
		static:   toSet(trimDots(rules.StaticExtensions)),
		prefixes: toLower(rules.ModelPrefixes),
		phrases:  toLower(rules.PurchasePhrases),
	}
}

// IsExcluded reports whether any path segment, or any hyphen or underscore
// separated token of one, is a non-product keyword.
func (c *Classifier) IsExcluded(rawURL string) bool {
	return c.matchesPath(rawURL, c.excluded)
}

// IsOfferPage reports whether the path uses offer, promotion, deal or sale
// vocabulary.
func (c *Classifier) IsOfferPage(rawURL string) bool {
	return c.matchesPath(rawURL, c.offers)
}

// IsStaticAsset reports whether the URL names a binary, style or script
// resource.
func (c *Classifier) IsStaticAsset(rawURL string) bool {
	segs := segments(rawURL)
	if len(segs) == 0 {
		return false
	}
	ext := strings.TrimPrefix(path.Ext(segs[len(segs)-1]), ".")
	if ext == "" {
		return false
	}
	_, ok := c.static[ext]
	return ok
}

// IsLikelyProductPage reports whether the page looks like a single product.
// A structured product signal in the HTML is enough on its own. Otherwise the
// URL must be product-shaped and the HTML must show price markup, a purchase
// action or a specifications block.
func (c *Classifier) IsLikelyProductPage(rawURL, html string) bool {
	doc, err := extract.Parse(html)
	if err != nil {
		return false
	}
	return c.IsLikelyProductDocument(rawURL, doc)
}

// IsLikelyProductDocument is IsLikelyProductPage over a parsed document.
func (c *Classifier) IsLikelyProductDocument(rawURL string, doc *goquery.Document) bool {
	if doc == nil {
		return false
	}
	if hasStructuredProduct(doc) {
		return true
	}
	if !c.productShapedURL(rawURL) {
		return false
	}
	if _, ok := extract.PriceFromDocument(doc); ok {
		return true
	}
	return c.hasPurchaseAction(doc) || hasSpecsBlock(doc)
}

// Classify combines the checks with precedence asset > excluded > offer >
// product.
func (c *Classifier) Classify(rawURL, html string) Kind {
	doc, _ := extract.Parse(html)
	return c.ClassifyDocument(rawURL, doc)
}

// ClassifyDocument is Classify over a parsed document.
func (c *Classifier) ClassifyDocument(rawURL string, doc *goquery.Document) Kind {
	switch {
	case c.IsStaticAsset(rawURL):
		return KindAsset
	case c.IsExcluded(rawURL):
		return KindExcluded
	case c.IsOfferPage(rawURL):
		return KindOffer
	case c.IsLikelyProductDocument(rawURL, doc):
		return KindProduct
	default:
		return KindOther
	}
}

// PathDepth counts the non-empty path segments of rawURL. Unparseable input
// has depth 0.
func PathDepth(rawURL string) int {
	return len(segments(rawURL))
}

func (c *Classifier) matchesPath(rawURL string, vocab map[string]struct{}) bool {
	for _, seg := range segments(rawURL) {
		if _, ok := vocab[seg]; ok {
			return true
		}
		for _, tok := range tokens(seg) {
			if _, ok := vocab[tok]; ok {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) productShapedURL(rawURL string) bool {
	segs := segments(rawURL)
	if len(segs) == 0 {
		return false
	}
	last := segs[len(segs)-1]
	if ext := path.Ext(last); ext != "" {
		if _, ok := pageExtensions[ext]; ok {
			last = strings.TrimSuffix(last, ext)
		}
	}
	if strings.Count(last, "-") > maxSlugHyphens {
		return false
	}
	compact := strings.NewReplacer("-", "", "_", "").Replace(last)
	for _, prefix := range c.prefixes {
		if modelSlug(compact, prefix) {
			return true
		}
	}
	if len(compact) < minProductToken || len(compact) > maxProductToken {
		return false
	}
	return isAlnum(compact) && strings.ContainsAny(compact, "0123456789")
}

// modelSlug reports whether slug names a model in the prefix's family. Short
// prefixes such as "sh" or "adv" must be followed by a digit, so "sh125"
// matches and "shipping" does not.
func modelSlug(slug, prefix string) bool {
	if prefix == "" || !strings.HasPrefix(slug, prefix) || !isAlnum(slug) {
		return false
	}
	if len(prefix) > maxShortPrefix {
		return true
	}
	rest := slug[len(prefix):]
	return rest != "" && rest[0] >= '0' && rest[0] <= '9'
}

func hasStructuredProduct(doc *goquery.Document) bool {
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		found = jsonLDProduct.MatchString(sel.Text())
		return !found
	})
	if found {
		return true
	}
	if ogType, ok := doc.Find(`meta[property="og:type"]`).First().Attr("content"); ok {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(ogType)), "product") {
			return true
		}
	}
	return doc.Find(`[itemtype*="schema.org/Product"]`).Length() > 0
}

func (c *Classifier) hasPurchaseAction(doc *goquery.Document) bool {
	found := false
	doc.Find(`button, a, input[type="submit"], input[type="button"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if v, ok := sel.Attr("value"); ok {
			text += " " + v
		}
		text = strings.ToLower(strings.Join(strings.Fields(text), " "))
		for _, phrase := range c.phrases {
			if phrase != "" && strings.Contains(text, phrase) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func hasSpecsBlock(doc *goquery.Document) bool {
	if doc.Find(specSelectors).Length() > 0 {
		return true
	}
	found := false
	doc.Find("h2, h3, h4").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		found = specHeading.MatchString(sel.Text())
		return !found
	})
	return found
}

// segments returns the lower-cased, unescaped, non-empty path segments.
func segments(rawURL string) []string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" {
			continue
		}
		out = append(out, strings.ToLower(seg))
	}
	return out
}

func tokens(seg string) []string {
	return strings.FieldsFunc(seg, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range toLower(values) {
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

func toLower(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(strings.TrimSpace(v)))
	}
	return out
}

func trimDots(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimPrefix(strings.TrimSpace(v), "."))
	}
	return out
}
