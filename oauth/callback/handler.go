// Package callback processes the landing on the OAuth callback path: it folds
// a redirect-delivered token, or a provider error, into the session.
package callback

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/Seann-Moser/stocker/identity"
	"github.com/Seann-Moser/stocker/session"
)

// busyWait bounds how long a landing waits for another operation to finish.
const busyWait = 30 * time.Second

// Session is the part of the state machine the callback drives.
type Session interface {
	CompleteExternalLogin(ctx context.Context, token string) error
	RejectExternalLogin(message string) bool
	ResetOutcome()
	Snapshot() session.Snapshot
	Wait(ctx context.Context) (session.Snapshot, error)
}

var _ Session = &session.Machine{}

// Result is what one landing produced.
type Result struct {
	OK      bool
	Code    Code
	Message string
	// Detail is the provider's error_description, for logs only.
	Detail string
	User   *identity.UserProfile
	Err    error
}

// Params are the query parameters of a callback landing.
type Params struct {
	Token            string
	Error            string
	ErrorDescription string
}

// ParseParams reads token (or access_token), error and error_description.
func ParseParams(q url.Values) Params {
	p := Params{
		Token:            q.Get("token"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if p.Token == "" {
		p.Token = q.Get("access_token")
	}
	return p
}

// Handler is one-shot: the first Handle that reaches a verdict does the work,
// later and concurrent calls get the same Result without touching the session
// again. A landing that found the session busy is not a verdict and is retried
// by the next Handle.
type Handler struct {
	sess   Session
	logger *slog.Logger

	mu     sync.Mutex
	done   bool
	result Result
}

func New(sess Session, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sess: sess, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, p Params) Result {
	res, _ := h.settle(ctx, p)
	return res
}

// settle reports whether this call is the one that reached the verdict.
func (h *Handler) settle(ctx context.Context, p Params) (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return h.result, false
	}
	res := h.handle(ctx, p)
	if errors.Is(res.Err, session.ErrBusy) {
		return res, false
	}
	h.done = true
	h.result = res
	return res, true
}

func (h *Handler) handle(ctx context.Context, p Params) Result {
	h.sess.ResetOutcome()

	if p.Error != "" {
		code, msg := Classify(p.Error)
		h.sess.RejectExternalLogin(msg)
		h.logger.Warn("external login rejected by provider", "code", p.Error, "description", p.ErrorDescription)
		return Result{
			Code:    code,
			Message: msg,
			Detail:  p.ErrorDescription,
			Err:     identity.NewOAuthProviderError(string(code), msg),
		}
	}

	if p.Token == "" {
		msg := CodeNoToken.Message()
		h.sess.RejectExternalLogin(msg)
		return Result{Code: CodeNoToken, Message: msg, Err: identity.NewOAuthProviderError(string(CodeNoToken), msg)}
	}

	err := h.sess.CompleteExternalLogin(ctx, p.Token)
	if errors.Is(err, session.ErrBusy) {
		// a password login or refresh owns the session; let it settle once
		wctx, cancel := context.WithTimeout(ctx, busyWait)
		_, werr := h.sess.Wait(wctx)
		cancel()
		if werr == nil {
			err = h.sess.CompleteExternalLogin(ctx, p.Token)
		}
	}
	switch {
	case err == nil:
		s := h.sess.Snapshot()
		return Result{OK: true, Message: session.MsgLoginSuccess, User: s.User}
	case errors.Is(err, session.ErrAlreadyAuthenticated):
		// a verified session wins over a second landing
		s := h.sess.Snapshot()
		return Result{OK: true, User: s.User}
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrSuperseded):
		// another operation owns the session; leave it alone
		h.logger.Warn("external login callback could not take the session", "error", err)
		return Result{Code: CodeCallbackFailed, Message: CodeCallbackFailed.Message(), Err: err}
	default:
		// the machine has already cleared the session with the same message
		h.logger.Warn("token from external login failed verification", "error", err)
		return Result{Code: CodeFetchUserFailed, Message: CodeFetchUserFailed.Message(), Err: err}
	}
}
