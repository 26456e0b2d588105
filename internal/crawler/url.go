package crawler

import (
	"errors"
	"net/url"
	"strings"
)

var opaqueSchemes = []string{"mailto:", "tel:", "javascript:", "data:", "ftp:", "file:"}

// Canonicalize returns the identity key for a page URL. It lowercases the
// scheme and host, assumes https when the scheme is missing, removes default
// ports, and drops query, fragment, and trailing slashes. Path case is kept.
func Canonicalize(rawURL string) (string, error) {
	const op = "canonicalize"
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", NewError(KindInvalidURL, op, rawURL, errors.New("empty url"))
	}
	trimmed = withDefaultScheme(trimmed)

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", NewError(KindInvalidURL, op, rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", NewError(KindInvalidURL, op, rawURL, errors.New("unsupported scheme"))
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", NewError(KindInvalidURL, op, rawURL, errors.New("missing host"))
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	path := strings.TrimRight(u.EscapedPath(), "/")

	var b strings.Builder
	b.Grow(len(scheme) + len(host) + len(path) + 3)
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	return b.String(), nil
}

func withDefaultScheme(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	if strings.Contains(raw, "://") {
		return raw
	}
	lower := strings.ToLower(raw)
	for _, prefix := range opaqueSchemes {
		if strings.HasPrefix(lower, prefix) {
			return raw
		}
	}
	return "https://" + raw
}

// SiteDomain returns the lower-cased host of rawURL without a leading "www.".
// It returns "" when the URL cannot be parsed.
func SiteDomain(rawURL string) string {
	u, err := url.Parse(withDefaultScheme(strings.TrimSpace(rawURL)))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// SameSite reports whether both URLs belong to the same site, ignoring a
// leading "www." on either host.
func SameSite(a, b string) bool {
	da := SiteDomain(a)
	return da != "" && da == SiteDomain(b)
}
