package stocker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/stocker/config"
	"github.com/Seann-Moser/stocker/identity/identitytest"
	"github.com/Seann-Moser/stocker/oauth/callback"
	"github.com/Seann-Moser/stocker/session"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		Store:        config.StoreConfig{Backend: config.BackendFile, Path: filepath.Join(t.TempDir(), "token")},
		CallbackAddr: "127.0.0.1:0",
		CallbackPath: "/auth/callback",
		LoginPath:    "/login",
	}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestApp_LoginSurvivesRestart(t *testing.T) {
	srv := identitytest.New()
	defer srv.Close()
	srv.AddUser("a@b.com", "pw", true)
	cfg := testConfig(t, srv.BaseURL())
	ctx := context.Background()

	a := newApp(t, cfg)
	require.NoError(t, a.Session.Boot(ctx))
	require.NoError(t, a.Session.Login(ctx, "a@b.com", "pw"))
	assert.Equal(t, session.StateAuthenticated, a.Session.Snapshot().State)

	// a second process reads the persisted token and verifies it
	b := newApp(t, cfg)
	assert.Equal(t, session.StateUnknown, b.Session.Snapshot().State)
	require.NoError(t, b.Session.Boot(ctx))
	s := b.Session.Snapshot()
	assert.Equal(t, session.StateAuthenticated, s.State)
	assert.Equal(t, "a@b.com", s.User.Email)
}

func TestApp_ExpiredTokenAtBoot(t *testing.T) {
	srv := identitytest.New()
	defer srv.Close()
	srv.AddUser("a@b.com", "pw", true)
	cfg := testConfig(t, srv.BaseURL())
	ctx := context.Background()

	tok := srv.IssueToken("a@b.com")
	a := newApp(t, cfg)
	require.NoError(t, a.Store.Save(ctx, tok))
	srv.Revoke(tok)

	b := newApp(t, cfg)
	assert.Error(t, b.Session.Boot(ctx))
	assert.Equal(t, session.StateAnonymous, b.Session.Snapshot().State)
	stored, err := b.Store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestApp_DomainUnauthorizedLogsOutOnce(t *testing.T) {
	srv := identitytest.New()
	defer srv.Close()
	srv.AddUser("a@b.com", "pw", true)
	ctx := context.Background()

	a := newApp(t, testConfig(t, srv.BaseURL()))
	require.NoError(t, a.Session.Login(ctx, "a@b.com", "pw"))

	resp, err := a.Do(ctx, http.MethodGet, "/analysis", nil)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Revoke(a.Session.CurrentToken())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := a.Do(ctx, http.MethodGet, "analysis", nil)
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	s := a.Session.Snapshot()
	assert.Equal(t, session.StateAnonymous, s.State)
	assert.Equal(t, session.MsgSessionExpired, s.Outcome.Message)
	assert.NoError(t, s.Check())
}

func TestApp_ForgedRedirectTokenIsNotAForcedLogout(t *testing.T) {
	srv := identitytest.New()
	defer srv.Close()
	ctx := context.Background()

	a := newApp(t, testConfig(t, srv.BaseURL()))
	require.NoError(t, a.Session.Boot(ctx))

	ch, cancel := a.Session.Subscribe()
	res := callback.New(a.Session, nil).Handle(ctx, callback.Params{Token: "forged"})
	cancel()
	assert.Equal(t, callback.CodeFetchUserFailed, res.Code)

	for s := range ch {
		if s.State == session.StateAnonymous && s.Outcome.Kind == session.OutcomeFailure {
			assert.Equal(t, session.MsgExternalLoginFailed, s.Outcome.Message)
		}
	}
	s := a.Session.Snapshot()
	assert.Equal(t, session.StateAnonymous, s.State)
	assert.Equal(t, session.MsgExternalLoginFailed, s.Outcome.Message)
	stored, err := a.Store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	rr := httptest.NewRecorder()
	a.Metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "stocker_session_forced_logouts_total 0")
}

func TestApp_StoreTimeoutFromConfig(t *testing.T) {
	cfg := testConfig(t, "http://localhost:8000/api/v1")
	cfg.Store.Backend = config.BackendMemory
	cfg.Store.Timeout = 250 * time.Millisecond
	a := newApp(t, cfg)
	assert.Equal(t, 250*time.Millisecond, a.Session.StoreTimeout())
}

func TestApp_MemoryBackend(t *testing.T) {
	cfg := testConfig(t, "http://localhost:8000/api/v1")
	cfg.Store.Backend = config.BackendMemory
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Session.Boot(context.Background()))
	assert.Equal(t, session.StateAnonymous, a.Session.Snapshot().State)
	require.NoError(t, a.Close(context.Background()))
}

func TestApp_BadSealKey(t *testing.T) {
	cfg := testConfig(t, "http://localhost:8000/api/v1")
	cfg.Store.SealKey = "short"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
