package classify

// Rules is the vocabulary a Classifier is built from. Matching is
// case-insensitive; empty fields fall back to DefaultRules.
type Rules struct {
	ExcludedKeywords []string `mapstructure:"excluded_keywords"`
	OfferKeywords    []string `mapstructure:"offer_keywords"`
	ModelPrefixes    []string `mapstructure:"model_prefixes"`
	PurchasePhrases  []string `mapstructure:"purchase_phrases"`
	StaticExtensions []string `mapstructure:"static_extensions"`
}

// DefaultRules returns the built-in vocabulary tuned for vehicle and parts
// supplier sites.
func DefaultRules() Rules {
	return Rules{
		ExcludedKeywords: []string{
			"about", "contact", "privacy", "terms", "cookies", "cookie", "legal",
			"login", "signin", "logout", "register", "account", "cart", "basket",
			"checkout", "wishlist", "careers", "jobs", "news", "blog", "press",
			"faq", "faqs", "help", "support", "sitemap", "search", "category",
			"categories", "collections", "brochure", "brochures", "events",
			"locator", "compare", "warranty", "recall", "recalls",
		},
		OfferKeywords: []string{
			"offer", "offers", "promotion", "promotions", "promo", "promos",
			"deal", "deals", "sale", "clearance", "discount", "discounts",
			"cashback",
		},
		ModelPrefixes: []string{
			"cb", "cbr", "crf", "cmx", "nc", "nt", "xl", "pcx", "sh", "forza",
			"adv", "gl", "msx", "grom", "hornet", "transalp", "africa",
		},
		PurchasePhrases: []string{
			"add to cart", "add to basket", "add to bag", "buy now", "order now",
			"buy online", "reserve now", "book a test ride", "request a quote",
			"enquire now", "in stock",
		},
		StaticExtensions: []string{
			"jpg", "jpeg", "png", "gif", "webp", "svg", "ico", "bmp", "tif",
			"tiff", "avif", "css", "js", "mjs", "map", "json", "xml", "pdf",
			"zip", "gz", "rar", "7z", "tar", "mp4", "mp3", "webm", "mov", "avi",
			"woff", "woff2", "ttf", "eot", "otf", "doc", "docx", "xls", "xlsx",
			"csv",
		},
	}
}

func (r Rules) withDefaults() Rules {
	def := DefaultRules()
	if len(r.ExcludedKeywords) == 0 {
		r.ExcludedKeywords = def.ExcludedKeywords
	}
	if len(r.OfferKeywords) == 0 {
		r.OfferKeywords = def.OfferKeywords
	}
	if len(r.ModelPrefixes) == 0 {
		r.ModelPrefixes = def.ModelPrefixes
	}
	if len(r.PurchasePhrases) == 0 {
		r.PurchasePhrases = def.PurchasePhrases
	}
	if len(r.StaticExtensions) == 0 {
		r.StaticExtensions = def.StaticExtensions
	}
	return r
}
