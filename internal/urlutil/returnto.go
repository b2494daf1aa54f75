package urlutil

import (
	"net/url"
	"strings"
)

// SanitizeReturnTo reduces a caller-supplied post-login target to a
// same-origin path plus query. Anything that does not resolve to the
// origin of baseURL becomes "/". The result always starts with exactly
// one slash, so it can never be read as a protocol-relative URL.
func SanitizeReturnTo(baseURL, raw string) string {
	if raw == "" {
		return "/"
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "/"
	}

	// Browsers treat "\" as "/" in http(s) URLs.
	raw = strings.ReplaceAll(raw, `\`, "/")

	// Paths, relative references and absolute URLs are all accepted.
	ref, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	target := ref
	if ref.Scheme == "" {
		target = base.ResolveReference(ref)
	}

	if !sameOrigin(base, target) {
		return "/"
	}

	p := target.EscapedPath()
	if p == "" {
		p = "/"
	}
	if strings.HasPrefix(p, "//") {
		p = "/" + strings.TrimLeft(p, "/")
	}
	if target.RawQuery != "" {
		p += "?" + target.RawQuery
	}
	return p
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && hostWithPort(a) == hostWithPort(b)
}

// hostWithPort lowercases the host and drops the scheme's default port.
func hostWithPort(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "":
	case strings.EqualFold(u.Scheme, "https") && port == "443":
		port = ""
	case strings.EqualFold(u.Scheme, "http") && port == "80":
		port = ""
	}
	if port == "" {
		return host
	}
	return host + ":" + port
}
