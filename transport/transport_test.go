package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/stocker/metrics"
)

// fakeSession clears on the first matching token, like the state machine.
type fakeSession struct {
	mu      sync.Mutex
	token   string
	cleared int
}

func (f *fakeSession) CurrentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeSession) ForceLogout(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == "" || token != f.token {
		return false
	}
	f.token = ""
	f.cleared++
	return true
}

func TestTransport_InjectsBearer(t *testing.T) {
	var gotAuth, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get(requestIDHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(nil, nil, nil)
	tr.Attach(&fakeSession{token: "abc"})
	resp, err := tr.Client(time.Second).Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer abc", gotAuth)
	assert.NotEmpty(t, gotID)
}

func TestTransport_KeepsExplicitAuthorization(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	tr := New(nil, nil, nil)
	tr.Attach(&fakeSession{token: "abc"})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer xyz")
	resp, err := tr.Client(time.Second).Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer xyz", gotAuth)
	assert.Empty(t, req.Header.Get(requestIDHeader), "caller request is not mutated")
}

func TestTransport_NoSessionNoHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	tr := New(nil, nil, nil)
	tr.Attach(&fakeSession{})
	resp, err := tr.Client(time.Second).Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Empty(t, gotAuth)
}

func TestTransport_UnauthorizedForcesLogoutOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := metrics.New()
	sess := &fakeSession{token: "stale"}
	tr := New(nil, nil, m)
	tr.Attach(sess)
	client := tr.Client(5 * time.Second)

	// every request carries the stale token, so every 401 is for it
	const calls = 16
	var statuses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/analysis", nil)
			req.Header.Set("Authorization", "Bearer stale")
			resp, err := client.Do(req)
			if err != nil {
				return
			}
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized {
				statuses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(calls), statuses.Load(), "401 is passed through to every caller")
	assert.Equal(t, 1, sess.cleared)
	assert.Empty(t, sess.CurrentToken())
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "stocker_session_forced_logouts_total 1")
}

func TestTransport_AnonymousRequests(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := &fakeSession{token: "abc"}
	tr := New(nil, nil, nil)
	tr.Attach(sess)
	req, _ := http.NewRequestWithContext(Anonymous(context.Background()), http.MethodPost, srv.URL, nil)
	resp, err := tr.Client(time.Second).Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Empty(t, gotAuth)
	assert.Equal(t, 0, sess.cleared)
	assert.Equal(t, "abc", sess.CurrentToken())
}

func TestTransport_VerificationLeavesSessionAlone(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := metrics.New()
	sess := &fakeSession{token: "abc"}
	tr := New(nil, nil, m)
	tr.Attach(sess)
	req, _ := http.NewRequestWithContext(Verification(context.Background()), http.MethodGet, srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, err := tr.Client(time.Second).Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Equal(t, 0, sess.cleared)
	assert.Equal(t, "abc", sess.CurrentToken())
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotContains(t, rr.Body.String(), "stocker_session_forced_logouts_total 1")
}

func TestTransport_OtherStatusesPassThrough(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		sess := &fakeSession{token: "abc"}
		tr := New(nil, nil, nil)
		tr.Attach(sess)
		resp, err := tr.Client(time.Second).Get(srv.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, code, resp.StatusCode)
		assert.Equal(t, 0, sess.cleared)
		srv.Close()
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic Zm9v", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := BearerToken(tt.header); got != tt.want {
			t.Errorf("BearerToken(%q) = %q; want %q", tt.header, got, tt.want)
		}
	}
}
