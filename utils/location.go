package utils

import (
	"net/http"
	"net/url"
	"strings"
)

// RequestScheme reports the scheme the client used, trusting the usual proxy
// headers (X-Forwarded-Proto, X-Forwarded-Host) when present.
func RequestScheme(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if r.Header.Get("X-Forwarded-Host") != "" {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(proto)
	}
	return scheme
}

// RequestedLocation is the path and query of r, suitable as a return target.
func RequestedLocation(r *http.Request) string {
	if r.URL == nil {
		return "/"
	}
	loc := r.URL.EscapedPath()
	if loc == "" {
		loc = "/"
	}
	if r.URL.RawQuery != "" {
		loc += "?" + r.URL.RawQuery
	}
	return loc
}

// SafeReturnPath returns raw when it is a same-origin relative path, otherwise
// "". It rejects absolute URLs and scheme-relative forms like //evil.com.
func SafeReturnPath(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return ""
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return raw
}
