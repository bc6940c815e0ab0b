package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/Seann-Moser/stocker/transport"
)

const (
	opRegister = "register"
	opLogin    = "login"
	opMe       = "fetch current user"
	opRecover  = "password recovery"
	opReset    = "password reset"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// CredentialStore is the part of the token store the gateway needs for logout.
type CredentialStore interface {
	Clear(ctx context.Context) error
}

// Gateway performs every call that crosses the trust boundary to the backend.
// All calls go through the supplied http.Client, which is expected to carry
// the session transport.
type Gateway struct {
	baseURL string
	client  *http.Client
	store   CredentialStore
	logger  *slog.Logger
	oauth   *oauth2.Config
}

// NewGateway constructs a Gateway rooted at baseURL (e.g. http://localhost:8000/api/v1).
func NewGateway(baseURL string, client *http.Client, store CredentialStore, logger *slog.Logger) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Gateway{
		baseURL: baseURL,
		client:  client,
		store:   store,
		logger:  logger,
		oauth: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  baseURL + "/auth/login/access-token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// Register creates an account. It never touches the session.
func (g *Gateway) Register(ctx context.Context, reg Registration) (*UserProfile, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	if reg.Email == "" || reg.Password == "" {
		return nil, &Error{Kind: KindValidation, Op: opRegister, Message: "email and password are required"}
	}
	var out UserProfile
	if err := g.doJSON(ctx, opRegister, http.MethodPost, "/auth/register", "", reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token and immediately verifies it. A token
// without a verified profile is never returned.
func (g *Gateway) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, &Error{Kind: KindAuthentication, Op: opLogin, Message: "email and password are required"}
	}
	tctx := context.WithValue(transport.Anonymous(ctx), oauth2.HTTPClient, g.client)
	tok, err := g.oauth.PasswordCredentialsToken(tctx, email, password)
	if err != nil {
		return nil, g.mapTokenError(err)
	}
	if t := tok.Type(); t != "" && !strings.EqualFold(t, "bearer") {
		return nil, &Error{Kind: KindAuthentication, Op: opLogin, Message: fmt.Sprintf("unsupported token type %q", t)}
	}
	user, err := g.FetchCurrentUser(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: tok.AccessToken, User: user}, nil
}

// FetchCurrentUser resolves token into the profile it belongs to. Whether a
// failure means logout is left to the caller.
func (g *Gateway) FetchCurrentUser(ctx context.Context, token string) (*UserProfile, error) {
	if token == "" {
		return nil, &Error{Kind: KindAuthentication, Op: opMe, Message: "No token found"}
	}
	var out UserProfile
	if err := g.doJSON(transport.Verification(ctx), opMe, http.MethodGet, "/auth/me", token, nil, &out); err != nil {
		return nil, err
	}
	if out.Email == "" {
		return nil, &Error{Kind: KindAuthentication, Op: opMe, Message: "server returned an empty profile"}
	}
	return &out, nil
}

// ExternalLoginURL is where the browser must navigate to start the Google flow.
func (g *Gateway) ExternalLoginURL() string {
	return g.baseURL + "/auth/google/login"
}

// Logout drops the stored credential. It is local only and never fails.
func (g *Gateway) Logout(ctx context.Context) {
	if g.store == nil {
		return
	}
	if err := g.store.Clear(ctx); err != nil {
		g.logger.Warn("failed clearing credential store", "error", err)
	}
}

// RecoverPassword asks the backend to send a reset link to email.
func (g *Gateway) RecoverPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &Error{Kind: KindValidation, Op: opRecover, Message: "email is required"}
	}
	return g.doJSON(ctx, opRecover, http.MethodPost, "/auth/password-recovery/"+url.PathEscape(email), "", nil, nil)
}

// ResetPassword completes a recovery with the emailed reset token.
func (g *Gateway) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if resetToken == "" || newPassword == "" {
		return &Error{Kind: KindValidation, Op: opReset, Message: "token and new password are required"}
	}
	return g.doJSON(ctx, opReset, http.MethodPost, "/auth/reset-password/", "", resetPasswordRequest{Token: resetToken, NewPassword: newPassword}, nil)
}

func (g *Gateway) doJSON(ctx context.Context, op, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	if token == "" {
		ctx = transport.Anonymous(ctx)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return networkError(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		e := classify(op, resp.StatusCode, parseDetail(raw))
		g.logger.Debug("gateway call rejected", "op", op, "status", resp.StatusCode, "kind", e.Kind.String())
		return e
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Message: "malformed server response", Err: err}
	}
	return nil
}

func (g *Gateway) mapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		detail := parseDetail(re.Body)
		if detail == "" {
			detail = re.ErrorDescription
		}
		return classify(opLogin, status, detail)
	}
	var ue *url.Error
	if errors.As(err, &ue) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return networkError(opLogin, err)
	}
	// oauth2 reports a 2xx without access_token as a plain error.
	return &Error{Kind: KindAuthentication, Op: opLogin, Message: "Login failed: No access token received.", Err: err}
}

func parseDetail(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var b errorBody
	if err := json.Unmarshal(raw, &b); err != nil {
		return ""
	}
	return detailMessage(b)
}
