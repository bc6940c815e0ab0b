// Package transport wraps outbound API requests with the current bearer token
// and turns an authorization failure on any request into a forced logout.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Seann-Moser/stocker/metrics"
)

const requestIDHeader = "X-Request-ID"

// Session is what the transport needs from the session state machine.
type Session interface {
	CurrentToken() string
	// ForceLogout clears the session if token is still the one it holds and
	// reports whether anything was cleared.
	ForceLogout(token string) bool
}

type modeKey struct{}

type mode int

const (
	modeSession mode = iota
	modeAnonymous
	modeVerification
)

// Anonymous marks requests made before a session exists (credential
// exchange, registration). They never carry the token and their 401s do not
// touch the session.
func Anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, modeKey{}, modeAnonymous)
}

// Verification marks a profile fetch that checks a token on the caller's
// behalf. The caller decides what a 401 means, so no forced logout happens.
func Verification(ctx context.Context) context.Context {
	return context.WithValue(ctx, modeKey{}, modeVerification)
}

func requestMode(ctx context.Context) mode {
	v, _ := ctx.Value(modeKey{}).(mode)
	return v
}

var _ http.RoundTripper = &Transport{}

// Transport is an http.RoundTripper. The session is attached after
// construction because the state machine itself depends on a client built
// from this transport.
type Transport struct {
	base    http.RoundTripper
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	session Session
}

func New(base http.RoundTripper, logger *slog.Logger, m *metrics.Metrics) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{base: base, logger: logger, metrics: m}
}

// Attach binds the session whose token is injected and which is cleared on 401.
func (t *Transport) Attach(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = s
}

// Client returns an http.Client using this transport.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.RLock()
	s := t.session
	t.mu.RUnlock()
	reqMode := requestMode(req.Context())
	if reqMode == modeAnonymous {
		s = nil
	}

	out := req.Clone(req.Context())
	if out.Header.Get("Authorization") == "" && s != nil {
		if token := s.CurrentToken(); token != "" {
			out.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if out.Header.Get(requestIDHeader) == "" {
		out.Header.Set(requestIDHeader, uuid.New().String())
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		t.metrics.ObserveRequest(out.Method, 0, time.Since(start))
		return nil, err
	}
	t.metrics.ObserveRequest(out.Method, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized && s != nil && reqMode == modeSession {
		token := BearerToken(out.Header.Get("Authorization"))
		if s.ForceLogout(token) {
			t.metrics.ForcedLogout()
			t.logger.Warn("server rejected session token, logged out",
				"method", out.Method,
				"path", out.URL.Path,
				"request_id", out.Header.Get(requestIDHeader),
			)
		}
	}
	return resp, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if len(header) < 7 || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
