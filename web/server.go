// Package web is the local browser surface: login pages, the OAuth callback
// path and a guarded status page, all over the one session.
package web

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Seann-Moser/stocker/guard"
	"github.com/Seann-Moser/stocker/identity"
	"github.com/Seann-Moser/stocker/oauth/callback"
	"github.com/Seann-Moser/stocker/qr"
	"github.com/Seann-Moser/stocker/session"
	"github.com/Seann-Moser/stocker/utils"
)

const returnTTL = 10 * time.Minute

// Session is what the pages need from the state machine.
type Session interface {
	callback.Session
	guard.Source
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context)
}

var _ Session = &session.Machine{}

type Options struct {
	Session Session
	// ExternalLoginURL starts the provider flow.
	ExternalLoginURL string
	LoginPath        string
	CallbackPath     string
	QRColor          string
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

type server struct {
	opts   Options
	secret []byte
	logger *slog.Logger
}

// NewRouter builds the chi router. The return-to cookie key is generated per
// process.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Session == nil {
		return nil, errors.New("web: session is required")
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.CallbackPath == "" {
		opts.CallbackPath = "/auth/callback"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	s := &server{opts: opts, secret: secret, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Get(opts.LoginPath, s.loginPage)
	r.Post(opts.LoginPath, s.loginSubmit)
	r.Get(opts.LoginPath+"/google", s.googleStart)
	if opts.ExternalLoginURL != "" {
		r.Method(http.MethodGet, opts.LoginPath+"/qr", qr.Handler(opts.ExternalLoginURL, opts.QRColor, s.logger))
	}
	r.Method(http.MethodGet, opts.CallbackPath, callback.NewHTTPHandler(opts.Session, s.logger, callback.HTTPOptions{
		FailurePath: opts.LoginPath,
		ReturnTo: func(r *http.Request) string {
			p, err := readReturnCookie(r, s.secret)
			if err != nil {
				return ""
			}
			return p
		},
	}))
	r.Post("/logout", s.logout)

	r.Group(func(r chi.Router) {
		r.Use(guard.Middleware(opts.Session, opts.LoginPath, s.logger))
		r.Get("/", s.home)
	})
	return r, nil
}

var pages = template.Must(template.New("pages").Parse(`
{{define "login"}}<!doctype html>
<html><head><meta charset="utf-8"><title>Sign in</title></head><body>
{{if .Message}}<p class="{{.Class}}">{{.Message}}</p>{{end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="next" value="{{.Next}}">
<label>Email <input type="email" name="email" required></label>
<label>Password <input type="password" name="password" required></label>
<button type="submit">Sign in</button>
</form>
{{if .Google}}<p><a href="{{.Google}}">Continue with Google</a></p>
{{if .QR}}<p><img src="{{.QR}}" alt="Sign in from another device"></p>{{end}}{{end}}
</body></html>
{{end}}
{{define "home"}}<!doctype html>
<html><head><meta charset="utf-8"><title>Stocker</title></head><body>
{{if .Message}}<p class="{{.Class}}">{{.Message}}</p>{{end}}
<p>Signed in as {{.User.Name}} ({{.User.Email}}){{if .User.Admin}} &middot; admin{{end}}</p>
<form method="post" action="/logout"><button type="submit">Log out</button></form>
</body></html>
{{end}}
`))

type pageData struct {
	Message string
	Class   string
	Action  string
	Next    string
	Google  string
	QR      string
	User    *identity.UserProfile
}

func outcomeData(o session.Outcome) pageData {
	switch o.Kind {
	case session.OutcomeSuccess:
		return pageData{Message: o.Message, Class: "success"}
	case session.OutcomeFailure:
		return pageData{Message: o.Message, Class: "error"}
	}
	return pageData{}
}

func (s *server) render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed rendering page", "page", name, "error", err)
	}
}

func (s *server) loginData(r *http.Request, o session.Outcome) pageData {
	d := outcomeData(o)
	if code := r.URL.Query().Get("error"); code != "" {
		_, d.Message = callback.Classify(code)
		d.Class = "error"
	}
	d.Action = s.opts.LoginPath
	d.Next = utils.SafeReturnPath(r.URL.Query().Get("next"))
	if s.opts.ExternalLoginURL != "" {
		d.Google = s.opts.LoginPath + "/google"
		if d.Next != "" {
			d.Google += "?next=" + template.URLQueryEscaper(d.Next)
		}
		d.QR = s.opts.LoginPath + "/qr"
	}
	return d
}

func (s *server) loginPage(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Session.Snapshot()
	if snap.Authenticated() {
		http.Redirect(w, r, nextOr(r.URL.Query().Get("next")), http.StatusFound)
		return
	}
	s.render(w, http.StatusOK, "login", s.loginData(r, snap.Outcome))
}

func (s *server) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	next := r.PostForm.Get("next")
	err := s.opts.Session.Login(r.Context(), r.PostForm.Get("email"), r.PostForm.Get("password"))
	switch {
	case err == nil, errors.Is(err, session.ErrAlreadyAuthenticated):
		http.Redirect(w, r, nextOr(next), http.StatusSeeOther)
		return
	case errors.Is(err, session.ErrBusy):
		s.render(w, http.StatusConflict, "login", s.loginData(r, session.Outcome{Kind: session.OutcomeFailure, Message: "Another sign in is in progress."}))
		return
	}
	d := s.loginData(r, s.opts.Session.Snapshot().Outcome)
	d.Next = utils.SafeReturnPath(next)
	status := http.StatusUnauthorized
	if errors.Is(err, identity.ErrNetwork) {
		status = http.StatusBadGateway
	}
	s.render(w, status, "login", d)
}

func (s *server) googleStart(w http.ResponseWriter, r *http.Request) {
	if s.opts.ExternalLoginURL == "" {
		http.NotFound(w, r)
		return
	}
	if err := setReturnCookie(w, r, r.URL.Query().Get("next"), s.secret, returnTTL); err != nil {
		s.logger.Warn("failed saving return location", "error", err)
	}
	http.Redirect(w, r, s.opts.ExternalLoginURL, http.StatusFound)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	s.opts.Session.Logout(r.Context())
	clearReturnCookie(w, r)
	http.Redirect(w, r, s.opts.LoginPath, http.StatusSeeOther)
}

func (s *server) home(w http.ResponseWriter, r *http.Request) {
	snap, err := session.FromContext(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	d := outcomeData(snap.Outcome)
	d.User = snap.User
	s.render(w, http.StatusOK, "home", d)
}

type healthResponse struct {
	State   string `json:"state"`
	Pending bool   `json:"pending"`
	Email   string `json:"email,omitempty"`
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.opts.Session.Snapshot()
	resp := healthResponse{State: snap.State.String(), Pending: snap.Pending}
	if snap.User != nil {
		resp.Email = snap.User.Email
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func nextOr(raw string) string {
	if p := utils.SafeReturnPath(raw); p != "" {
		return p
	}
	return "/"
}
