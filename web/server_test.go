package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/stocker/identity"
	"github.com/Seann-Moser/stocker/identity/identitytest"
	"github.com/Seann-Moser/stocker/metrics"
	"github.com/Seann-Moser/stocker/session"
	"github.com/Seann-Moser/stocker/tokenstore"
	"github.com/Seann-Moser/stocker/transport"
)

type fixture struct {
	api     *identitytest.Server
	web     *httptest.Server
	machine *session.Machine
	client  *http.Client
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	api := identitytest.New()
	t.Cleanup(api.Close)

	m := metrics.New()
	store := tokenstore.NewMemoryStore(token)
	tr := transport.New(api.Client().Transport, nil, m)
	gw := identity.NewGateway(api.BaseURL(), tr.Client(5*time.Second), store, nil)
	machine := session.New(context.Background(), store, gw, session.WithMetrics(m))
	tr.Attach(machine)

	h, err := NewRouter(Options{
		Session:          machine,
		ExternalLoginURL: gw.ExternalLoginURL(),
		Metrics:          m.Handler(),
	})
	require.NoError(t, err)
	web := httptest.NewServer(h)
	t.Cleanup(web.Close)
	api.CallbackURL = web.URL + "/auth/callback"

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &fixture{api: api, web: web, machine: machine, client: client}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := f.client.Get(f.web.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestGuardedHome(t *testing.T) {
	f := newFixture(t, "")
	f.api.AddUser("a@b.com", "pw", true)

	// before boot resolves the page is a placeholder, not a redirect
	resp, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Loading")

	require.NoError(t, f.machine.Boot(context.Background()))
	resp, _ = f.get(t, "/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?next=%2F", resp.Header.Get("Location"))

	resp, body = f.get(t, "/login?next=%2F")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="next" value="/"`)

	form := url.Values{"email": {"a@b.com"}, "password": {"wrong"}, "next": {"/"}}
	resp, err := f.client.PostForm(f.web.URL+"/login", form)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(raw), "Incorrect email or password")

	form.Set("password", "pw")
	resp, err = f.client.PostForm(f.web.URL+"/login", form)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, body = f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Signed in as a@b.com")

	resp, err = f.client.Post(f.web.URL+"/logout", "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, session.StateAnonymous, f.machine.Snapshot().State)
}

func TestGoogleRoundTrip(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.machine.Boot(context.Background()))
	f.client.CheckRedirect = nil

	resp, err := f.client.Get(f.web.URL + "/login/google?next=%2F")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Request.URL.Path)
	assert.Empty(t, resp.Request.URL.RawQuery, "callback parameters are gone from the final url")
	assert.Contains(t, string(body), "google-user@example.com")
	assert.Equal(t, int32(1), f.api.MeCalls.Load())
}

func TestGoogleProviderError(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.machine.Boot(context.Background()))

	resp, _ := f.get(t, "/auth/callback?error=oauth_failed")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.Equal(t, "/login?error=oauth_failed", loc)

	_, body := f.get(t, loc)
	assert.Contains(t, body, "Google authentication failed. Please try again.")
	assert.Equal(t, int32(0), f.api.MeCalls.Load())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.machine.Boot(context.Background()))

	resp, body := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "anonymous", h.State)

	resp, body = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(body, "stocker_session_transitions_total"))
}
