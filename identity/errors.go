package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation     = errors.New("identity: validation failed")
	ErrAuthentication = errors.New("identity: authentication failed")
	ErrConflict       = errors.New("identity: conflict")
	ErrNetwork        = errors.New("identity: network failure")
	ErrOAuthProvider  = errors.New("identity: oauth provider error")
)

// Kind is the closed set of failures the gateway reports.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindConflict
	KindNetwork
	KindOAuthProvider
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuthentication:
		return ErrAuthentication
	case KindConflict:
		return ErrConflict
	case KindNetwork:
		return ErrNetwork
	case KindOAuthProvider:
		return ErrOAuthProvider
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindConflict:
		return "conflict"
	case KindNetwork:
		return "network"
	case KindOAuthProvider:
		return "oauth_provider"
	}
	return "unknown"
}

// Error is returned by every gateway operation. Message is safe to show to a user.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	var out []error
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewOAuthProviderError is used by the callback handler for provider reported failures.
func NewOAuthProviderError(code, message string) *Error {
	return &Error{Kind: KindOAuthProvider, Op: "oauth callback", Message: message, Err: errors.New(code)}
}

// UserMessage extracts the human readable message of a gateway error, or the
// plain error text for anything else.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func networkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: "unable to reach the server", Err: err}
}

// classify maps a non-2xx response to the taxonomy. op decides how plain 400s read.
func classify(op string, status int, detail string) *Error {
	e := &Error{Op: op, Status: status, Message: detail}
	switch {
	case status >= 500:
		e.Kind = KindNetwork
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = KindAuthentication
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case op == opRegister && strings.Contains(strings.ToLower(detail), "already registered"):
		e.Kind = KindConflict
	case op == opRegister, op == opRecover, op == opReset:
		e.Kind = KindValidation
	default:
		e.Kind = KindAuthentication
	}
	if e.Message == "" {
		e.Message = defaultMessage(op, e.Kind)
	}
	return e
}

func defaultMessage(op string, k Kind) string {
	switch {
	case k == KindNetwork:
		return "the server is unavailable, please try again"
	case op == opLogin:
		return "Login failed"
	case op == opRegister:
		return "Registration failed"
	case op == opMe:
		return "Failed to fetch user"
	}
	return strings.TrimSpace(op + " failed")
}

// detailMessage flattens a FastAPI detail (string or validation list).
func detailMessage(b errorBody) string {
	switch d := b.Detail.(type) {
	case string:
		return d
	case []any:
		var parts []string
		for _, item := range d {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if msg, ok := m["msg"].(string); ok {
				parts = append(parts, msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
