package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Seann-Moser/stocker/identity"
)

type contextKey string

const (
	sessionKey contextKey = "STOCKER_SESSION"
)

var (
	// ErrBusy is returned when a verification, login or registration is already in flight.
	ErrBusy = errors.New("session: another operation is in flight")
	// ErrSuperseded means the result arrived after a newer transition (usually a logout) and was dropped.
	ErrSuperseded = errors.New("session: result superseded by a newer transition")
	// ErrAlreadyAuthenticated is returned by login paths while a verified session exists.
	ErrAlreadyAuthenticated = errors.New("session: already authenticated, log out first")
)

const (
	MsgLoginSuccess    = "Login successful!"
	MsgRegisterSuccess = "Registration successful! Please login."
	MsgLogoutSuccess   = "Logout successful."
	MsgSessionExpired  = "Your session has expired. Please log in again."
	MsgRecoverySent    = "If the account exists, a recovery email has been sent."
	MsgPasswordReset   = "Password updated. Please login."
)

// MsgExternalLoginFailed is the outcome when a redirect-delivered token cannot be verified.
const MsgExternalLoginFailed = "Failed to fetch user information. Please try again."

// State is the trust state of the session.
type State int

const (
	// StateUnknown is the boot state: a token may be stored but is unverified.
	StateUnknown State = iota
	StateVerifying
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeSuccess
	OutcomeFailure
)

// Outcome is transient feedback about the last finished operation.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}

// Snapshot is an immutable copy of the session taken under the machine's lock.
type Snapshot struct {
	State      State
	Token      string
	User       *identity.UserProfile
	Pending    bool
	Outcome    Outcome
	Generation uint64
}

// Authenticated is true only for a profile verified in this process.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated
}

// Settled reports whether the initial check has resolved and nothing is in flight.
func (s Snapshot) Settled() bool {
	return !s.Pending && (s.State == StateAuthenticated || s.State == StateAnonymous)
}

// Check validates the session invariants.
func (s Snapshot) Check() error {
	if s.State == StateAuthenticated && (s.User == nil || s.Token == "") {
		return fmt.Errorf("authenticated without user or token (user=%v token=%t)", s.User != nil, s.Token != "")
	}
	if s.Token == "" && (s.State == StateAuthenticated || s.User != nil) {
		return errors.New("no token but user or authenticated state present")
	}
	if s.State == StateVerifying && s.Token == "" {
		return errors.New("verifying without a token")
	}
	return nil
}

// WithContext attaches the snapshot to ctx.
func (s Snapshot) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the snapshot attached by WithContext.
func FromContext(ctx context.Context) (Snapshot, error) {
	v := ctx.Value(sessionKey)
	if v == nil {
		return Snapshot{}, errors.New("no session in context")
	}
	s, ok := v.(Snapshot)
	if !ok {
		return Snapshot{}, errors.New("invalid session type in context")
	}
	return s, nil
}
