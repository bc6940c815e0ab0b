package utils

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestScheme(t *testing.T) {
	tests := []struct {
		name    string
		tls     bool
		headers map[string]string
		want    string
	}{
		{"plain", false, nil, "http"},
		{"tls", true, nil, "https"},
		{"forwarded host", false, map[string]string{"X-Forwarded-Host": "app.example.com"}, "https"},
		{"forwarded proto wins", false, map[string]string{"X-Forwarded-Host": "app.example.com", "X-Forwarded-Proto": "http"}, "http"},
		{"proto case", false, map[string]string{"X-Forwarded-Proto": "HTTPS"}, "https"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := RequestScheme(req); got != tt.want {
				t.Errorf("RequestScheme() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestRequestedLocation(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/", "/"},
		{"/portfolio", "/portfolio"},
		{"/analysis?symbol=ACME&range=1y", "/analysis?symbol=ACME&range=1y"},
		{"/a%20b", "/a%20b"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if got := RequestedLocation(req); got != tt.want {
			t.Errorf("RequestedLocation(%q) = %q; want %q", tt.target, got, tt.want)
		}
	}
}

func TestSafeReturnPath(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"root", "/", "/"},
		{"path with query", "/analysis?symbol=ACME", "/analysis?symbol=ACME"},
		{"relative", "portfolio", ""},
		{"absolute", "https://evil.example/x", ""},
		{"scheme relative", "//evil.example/x", ""},
		{"backslash", "/\\evil.example", ""},
		{"javascript", "javascript:alert(1)", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeReturnPath(tt.raw); got != tt.want {
				t.Errorf("SafeReturnPath(%q) = %q; want %q", tt.raw, got, tt.want)
			}
		})
	}
}
