package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Seann-Moser/stocker/identity"
	"github.com/Seann-Moser/stocker/metrics"
	"github.com/Seann-Moser/stocker/tokenstore"
)

const defaultStoreTimeout = 5 * time.Second

// Gateway is the subset of identity.Gateway the machine drives.
type Gateway interface {
	Register(ctx context.Context, reg identity.Registration) (*identity.UserProfile, error)
	Login(ctx context.Context, email, password string) (*identity.LoginResult, error)
	FetchCurrentUser(ctx context.Context, token string) (*identity.UserProfile, error)
	RecoverPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	Logout(ctx context.Context)
}

var _ Gateway = &identity.Gateway{}

type Option func(*Machine)

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithStoreTimeout bounds each credential store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.storeTimeout = d
		}
	}
}

// Machine is the authoritative in-memory session. Every mutation happens
// under mu and is published to subscribers as one snapshot.
//
// Network calls run outside the lock. Each operation records the generation
// it started in and its result is dropped if the generation moved on (a
// logout or forced clear happened meanwhile).
type Machine struct {
	store        tokenstore.Store
	gw           Gateway
	logger       *slog.Logger
	metrics      *metrics.Metrics
	storeTimeout time.Duration
	flight       singleflight.Group

	mu      sync.Mutex
	snap    Snapshot
	op      uint64 // pending operation id, 0 when idle
	nextOp  uint64
	bootOp  uint64 // op id of an in-flight verification of the stored token
	subs    map[uint64]chan Snapshot
	nextSub uint64
}

// New reads the stored token and returns a machine in StateUnknown. A store
// read failure is treated as no token.
func New(ctx context.Context, store tokenstore.Store, gw Gateway, opts ...Option) *Machine {
	m := &Machine{
		store:        store,
		gw:           gw,
		logger:       slog.Default(),
		storeTimeout: defaultStoreTimeout,
		subs:         make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	token, err := store.Read(ctx)
	if err != nil {
		m.logger.Warn("credential store unreadable, starting without a token", "error", err)
		token = ""
	}
	m.snap = Snapshot{State: StateUnknown, Token: token}
	return m
}

// StoreTimeout is the bound applied to each credential store call.
func (m *Machine) StoreTimeout() time.Duration {
	return m.storeTimeout
}

// Snapshot returns the current session.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// CurrentToken is read by the transport for every outbound request.
func (m *Machine) CurrentToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Token
}

// Boot runs the verification-on-load. Without a stored token it settles to
// StateAnonymous without any network call. Concurrent calls share one fetch
// and a settled session is left as is.
func (m *Machine) Boot(ctx context.Context) error {
	return m.verify(ctx, false)
}

// Refresh re-fetches the profile of an authenticated session. It shares the
// in-flight fetch with Boot.
func (m *Machine) Refresh(ctx context.Context) error {
	return m.verify(ctx, true)
}

func (m *Machine) verify(ctx context.Context, refresh bool) error {
	_, err, _ := m.flight.Do("verify", func() (any, error) {
		return nil, m.runVerify(ctx, refresh)
	})
	return err
}

func (m *Machine) runVerify(ctx context.Context, force bool) error {
	m.mu.Lock()
	switch {
	case m.op != 0:
		m.mu.Unlock()
		return ErrBusy
	case m.snap.State == StateAnonymous:
		m.mu.Unlock()
		return nil
	case m.snap.State == StateAuthenticated && !force:
		m.mu.Unlock()
		return nil
	case m.snap.Token == "":
		next := m.snap
		next.State = StateAnonymous
		next.User = nil
		m.setLocked(next)
		m.mu.Unlock()
		return nil
	}
	refresh := m.snap.State == StateAuthenticated
	op, gen := m.beginLocked(true)
	if !refresh {
		m.bootOp = op
	}
	token := m.snap.Token
	next := m.snap
	next.Outcome = Outcome{}
	if !refresh {
		next.State = StateVerifying
	}
	m.setLocked(next)
	m.mu.Unlock()

	user, err := m.gw.FetchCurrentUser(ctx, token)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked(op)
	if m.snap.Generation != gen {
		return m.supersededLocked(err)
	}
	if err == nil {
		next := m.snap
		next.State = StateAuthenticated
		next.User = user
		m.setLocked(next)
		return nil
	}
	if refresh && !errors.Is(err, identity.ErrAuthentication) {
		// a verified session survives a transient refresh failure
		next := m.snap
		next.Outcome = failure(identity.UserMessage(err))
		m.setLocked(next)
		return err
	}
	m.logger.Info("stored token failed verification, discarding it", "error", err)
	msg := identity.UserMessage(err)
	if errors.Is(err, identity.ErrAuthentication) {
		msg = MsgSessionExpired
	}
	m.clearLocked(failure(msg))
	return err
}

// Login exchanges credentials and, on success, persists the token.
func (m *Machine) Login(ctx context.Context, email, password string) error {
	m.mu.Lock()
	if m.op != 0 {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.snap.State == StateAuthenticated {
		m.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	op, gen := m.beginLocked(true)
	next := m.snap
	next.Outcome = Outcome{}
	m.setLocked(next)
	m.mu.Unlock()

	res, err := m.gw.Login(ctx, email, password)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked(op)
	if m.snap.Generation != gen {
		return m.supersededLocked(err)
	}
	if err != nil {
		m.clearLocked(failure(identity.UserMessage(err)))
		return err
	}
	m.saveLocked(res.Token)
	m.setLocked(Snapshot{
		State:      StateAuthenticated,
		Token:      res.Token,
		User:       res.User,
		Generation: gen,
		Outcome:    success(MsgLoginSuccess),
	})
	m.logger.Info("logged in", "user_id", res.User.ID)
	return nil
}

// CompleteExternalLogin persists a token delivered by the OAuth redirect and
// verifies it. On failure the session ends anonymous and the store is cleared.
//
// The redirect token is newer than the stored one, so a verification of the
// stored token still in flight is superseded rather than reported as busy.
func (m *Machine) CompleteExternalLogin(ctx context.Context, token string) error {
	if token == "" {
		return identity.NewOAuthProviderError("no_token", "No authentication token received.")
	}
	m.mu.Lock()
	if m.op != 0 && m.op != m.bootOp {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.snap.State == StateAuthenticated {
		m.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	if m.op != 0 {
		m.logger.Debug("redirect token supersedes stored token verification", "generation", m.snap.Generation)
	}
	op, gen := m.beginLocked(true)
	m.saveLocked(token)
	m.setLocked(Snapshot{State: StateVerifying, Token: token, Generation: gen})
	m.mu.Unlock()

	user, err := m.gw.FetchCurrentUser(ctx, token)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked(op)
	if m.snap.Generation != gen {
		return m.supersededLocked(err)
	}
	if err != nil {
		m.clearLocked(failure(MsgExternalLoginFailed))
		return err
	}
	next := m.snap
	next.State = StateAuthenticated
	next.User = user
	next.Outcome = success(MsgLoginSuccess)
	m.setLocked(next)
	m.logger.Info("logged in via external provider", "user_id", user.ID)
	return nil
}

// RejectExternalLogin records a failed OAuth landing. A verified session is
// left alone; anything else ends anonymous with message.
func (m *Machine) RejectExternalLogin(message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.State == StateAuthenticated {
		return false
	}
	m.snap.Generation++
	m.clearLocked(failure(message))
	return true
}

// Register creates an account. Only the outcome changes.
func (m *Machine) Register(ctx context.Context, reg identity.Registration) (*identity.UserProfile, error) {
	var user *identity.UserProfile
	err := m.outcomeOp(ctx, MsgRegisterSuccess, func(ctx context.Context) error {
		var err error
		user, err = m.gw.Register(ctx, reg)
		return err
	})
	return user, err
}

func (m *Machine) RecoverPassword(ctx context.Context, email string) error {
	return m.outcomeOp(ctx, MsgRecoverySent, func(ctx context.Context) error {
		return m.gw.RecoverPassword(ctx, email)
	})
}

func (m *Machine) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	return m.outcomeOp(ctx, MsgPasswordReset, func(ctx context.Context) error {
		return m.gw.ResetPassword(ctx, resetToken, newPassword)
	})
}

// outcomeOp runs fn as the single pending operation without touching the
// token, user or state.
func (m *Machine) outcomeOp(ctx context.Context, successMsg string, fn func(context.Context) error) error {
	m.mu.Lock()
	if m.op != 0 {
		m.mu.Unlock()
		return ErrBusy
	}
	op, _ := m.beginLocked(false)
	next := m.snap
	next.Outcome = Outcome{}
	m.setLocked(next)
	m.mu.Unlock()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked(op)
	next = m.snap
	if err != nil {
		next.Outcome = failure(identity.UserMessage(err))
	} else {
		next.Outcome = success(successMsg)
	}
	m.setLocked(next)
	return err
}

// Logout clears the session and the store. It supersedes anything in flight.
func (m *Machine) Logout(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Generation++
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	m.gw.Logout(sctx)
	cancel()
	m.setLocked(Snapshot{
		State:      StateAnonymous,
		Generation: m.snap.Generation,
		Outcome:    success(MsgLogoutSuccess),
	})
}

// ForceLogout is called by the transport when the server rejects token. Only
// the first rejection of the current token clears anything.
func (m *Machine) ForceLogout(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || token != m.snap.Token {
		return false
	}
	from := m.snap.State
	m.snap.Generation++
	m.clearLocked(failure(MsgSessionExpired))
	m.logger.Info("session cleared after authorization failure", "from", from.String())
	return true
}

// ResetOutcome clears the transient outcome.
func (m *Machine) ResetOutcome() {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.snap
	next.Outcome = Outcome{}
	m.setLocked(next)
}

// Subscribe returns a channel that always holds the latest snapshot; slow
// readers only miss intermediate states. cancel closes the channel.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- m.snap
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Wait blocks until the session is settled or ctx is done.
func (m *Machine) Wait(ctx context.Context) (Snapshot, error) {
	ch, cancel := m.Subscribe()
	defer cancel()
	for {
		select {
		case s := <-ch:
			if s.Settled() {
				return s, nil
			}
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
}

func (m *Machine) beginLocked(bump bool) (op, gen uint64) {
	m.nextOp++
	m.op = m.nextOp
	m.bootOp = 0
	if bump {
		m.snap.Generation++
	}
	return m.op, m.snap.Generation
}

func (m *Machine) endLocked(op uint64) {
	if m.op == op {
		m.op = 0
		m.bootOp = 0
	}
}

func (m *Machine) supersededLocked(err error) error {
	// republish so Pending drops
	m.setLocked(m.snap)
	if err != nil {
		return err
	}
	return ErrSuperseded
}

func (m *Machine) clearLocked(outcome Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("failed clearing credential store", "error", err)
	}
	m.setLocked(Snapshot{
		State:      StateAnonymous,
		Generation: m.snap.Generation,
		Outcome:    outcome,
	})
}

func (m *Machine) saveLocked(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()
	if err := m.store.Save(ctx, token); err != nil {
		m.logger.Warn("failed persisting token, session will not survive a restart", "error", err)
	}
}

func (m *Machine) setLocked(next Snapshot) {
	prev := m.snap
	next.Pending = m.op != 0
	m.snap = next
	if prev.State != next.State {
		m.metrics.Transition(prev.State.String(), next.State.String())
		m.logger.Debug("session transition", "from", prev.State.String(), "to", next.State.String(), "generation", next.Generation)
	}
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

func success(msg string) Outcome { return Outcome{Kind: OutcomeSuccess, Message: msg} }

func failure(msg string) Outcome { return Outcome{Kind: OutcomeFailure, Message: msg} }
