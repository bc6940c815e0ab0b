// Package identitytest runs an in-process stand-in for the identity backend.
package identitytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Seann-Moser/stocker/identity"
)

const PathPrefix = "/api/v1"

type account struct {
	profile  identity.UserProfile
	password string
}

// Server mimics the FastAPI backend: error bodies carry a "detail" field and
// /auth/me answers 401 for unknown or revoked tokens.
type Server struct {
	*httptest.Server

	// CallbackURL receives the provider redirect from /auth/google/login.
	CallbackURL string
	// GoogleError, when set, is sent as ?error= instead of a token.
	GoogleError string

	// BeforeMe, when set, runs before /auth/me answers. Tests use it to hold
	// a verification in flight.
	BeforeMe func(token string)

	MeCalls    atomic.Int32
	LoginCalls atomic.Int32

	mu       sync.Mutex
	nextID   int64
	accounts map[string]*account
	tokens   map[string]string
	resets   map[string]string
}

func New() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		resets:   make(map[string]string),
	}
	r := chi.NewRouter()
	r.Route(PathPrefix, func(r chi.Router) {
		r.Post("/auth/register", s.register)
		r.Post("/auth/login/access-token", s.accessToken)
		r.Get("/auth/me", s.me)
		r.Get("/auth/google/login", s.googleLogin)
		r.Post("/auth/password-recovery/{email}", s.recover)
		r.Post("/auth/reset-password/", s.resetPassword)
		r.Get("/analysis", s.analysis)
	})
	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL is the API root clients are configured with.
func (s *Server) BaseURL() string {
	return s.URL + PathPrefix
}

// AddUser creates an account directly.
func (s *Server) AddUser(email, password string, active bool) identity.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(email, password, active)
}

func (s *Server) addLocked(email, password string, active bool) identity.UserProfile {
	s.nextID++
	now := time.Now().UTC().Truncate(time.Second)
	a := &account{
		profile:  identity.UserProfile{ID: s.nextID, Email: email, Active: active, CreatedAt: &now},
		password: password,
	}
	s.accounts[email] = a
	return a.profile
}

// IssueToken mints a valid token for email without a password exchange.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := uuid.NewString()
	s.tokens[tok] = email
	return tok
}

// Revoke makes token fail on every later request.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// ResetToken returns the last recovery token sent to email.
func (s *Server) ResetToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, e := range s.resets {
		if e == email {
			return tok
		}
	}
	return ""
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in identity.Registration
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "email"}, "msg": "field required", "type": "value_error.missing"}},
		})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[in.Email]; ok {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	p := s.addLocked(in.Email, in.Password, true)
	if in.DisplayName != nil {
		s.accounts[in.Email].profile.DisplayName = in.DisplayName
		p.DisplayName = in.DisplayName
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) accessToken(w http.ResponseWriter, r *http.Request) {
	s.LoginCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		writeDetail(w, http.StatusBadRequest, "unsupported grant_type")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[r.PostForm.Get("username")]
	if !ok || a.password != r.PostForm.Get("password") {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	if !a.profile.Active {
		writeDetail(w, http.StatusBadRequest, "Inactive user")
		return
	}
	tok := uuid.NewString()
	s.tokens[tok] = a.profile.Email
	writeJSON(w, http.StatusOK, identity.TokenResponse{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.MeCalls.Add(1)
	if s.BeforeMe != nil {
		s.BeforeMe(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	p, ok := s.authorize(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) analysis(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(r); !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, []map[string]any{{"symbol": "ACME", "signal": "hold"}})
}

func (s *Server) googleLogin(w http.ResponseWriter, r *http.Request) {
	if s.CallbackURL == "" {
		writeDetail(w, http.StatusInternalServerError, "callback not configured")
		return
	}
	q := url.Values{}
	if s.GoogleError != "" {
		q.Set("error", s.GoogleError)
	} else {
		s.mu.Lock()
		email := "google-user@example.com"
		if _, ok := s.accounts[email]; !ok {
			s.addLocked(email, "", true)
		}
		s.mu.Unlock()
		q.Set("token", s.IssueToken(email))
	}
	http.Redirect(w, r, s.CallbackURL+"?"+q.Encode(), http.StatusFound)
}

func (s *Server) recover(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	s.mu.Lock()
	if _, ok := s.accounts[email]; ok {
		s.resets[uuid.NewString()] = email
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password recovery email sent"})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.resets[in.Token]
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Invalid token")
		return
	}
	delete(s.resets, in.Token)
	s.accounts[email].password = in.NewPassword
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

func (s *Server) authorize(r *http.Request) (identity.UserProfile, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return identity.UserProfile{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.tokens[strings.TrimPrefix(h, "Bearer ")]
	if !ok {
		return identity.UserProfile{}, false
	}
	return s.accounts[email].profile, true
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
