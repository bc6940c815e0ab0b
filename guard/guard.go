// Package guard decides access to protected views from the session state.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/Seann-Moser/stocker/session"
	"github.com/Seann-Moser/stocker/utils"
)

// ErrLoginRequired is returned by Require when the session settles anonymous.
var ErrLoginRequired = errors.New("guard: login required")

type Action int

const (
	// Loading means the initial check has not resolved yet. Never redirect here.
	Loading Action = iota
	Redirect
	Allow
)

func (a Action) String() string {
	switch a {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Allow:
		return "allow"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type Decision struct {
	Action Action
	// Location is the login entry point for Redirect, including ?next=.
	Location string
}

// Decide maps a snapshot to an action. requested is kept as the post-login
// return target when it is a safe relative path.
func Decide(s session.Snapshot, loginPath, requested string) Decision {
	switch s.State {
	case session.StateAuthenticated:
		return Decision{Action: Allow}
	case session.StateAnonymous:
		return Decision{Action: Redirect, Location: LoginLocation(loginPath, requested)}
	}
	return Decision{Action: Loading}
}

// LoginLocation builds loginPath?next=requested, dropping unsafe targets.
func LoginLocation(loginPath, requested string) string {
	next := utils.SafeReturnPath(requested)
	if next == "" || next == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{"next": {next}}.Encode()
}

// Waiter blocks until the session is settled.
type Waiter interface {
	Wait(ctx context.Context) (session.Snapshot, error)
}

var _ Waiter = &session.Machine{}

// Require is the non-HTTP form of the guard: it waits out Loading and fails
// with ErrLoginRequired unless the session is authenticated.
func Require(ctx context.Context, w Waiter) (session.Snapshot, error) {
	s, err := w.Wait(ctx)
	if err != nil {
		return s, err
	}
	if Decide(s, "", "").Action != Allow {
		return s, ErrLoginRequired
	}
	return s, nil
}
