package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the authentication phase of a tenant session.
type State int32

const (
	StateInitializing State = iota
	StateAwaitingScan
	StateAuthenticated
	StateAuthFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateAwaitingScan:
		return "AWAITING_SCAN"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateAuthFailed:
		return "AUTH_FAILED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// TransitionFunc observes state changes for snapshots and webhooks.
// Called outside the session lock. detail carries the failure reason
// for terminal transitions and the account id when entering
// StateAuthenticated.
type TransitionFunc func(tenant string, from, to State, detail string)

// Session tracks one tenant's authentication lifecycle over an
// exclusive driver. All event application is serialized by mu; the
// ready channel is the only cross-goroutine signal.
type Session struct {
	tenant string
	driver Driver

	mu         sync.Mutex
	state      State
	challenge  *Challenge
	accountID  string
	lastError  string
	everAuth   bool
	reconnects int

	// readyCh closes exactly once, after readyErr is final. Every
	// waiter observes the same outcome.
	readyCh   chan struct{}
	readyErr  error
	readyOnce sync.Once

	// challengeCh is swapped on every accepted challenge so blocked
	// challenge readers wake without polling.
	challengeCh chan struct{}

	authTimer    *time.Timer
	challengeTTL time.Duration

	createdAt  time.Time
	onTerminal func(s *Session, cause error)
	transition TransitionFunc
	now        func() time.Time
}

func newSession(tenant string, driver Driver, authTimeout, challengeTTL time.Duration, transition TransitionFunc) *Session {
	s := &Session{
		tenant:       tenant,
		driver:       driver,
		state:        StateInitializing,
		readyCh:      make(chan struct{}),
		challengeCh:  make(chan struct{}),
		challengeTTL: challengeTTL,
		createdAt:    time.Now(),
		transition:   transition,
		now:          time.Now,
	}
	if authTimeout > 0 {
		s.authTimer = time.AfterFunc(authTimeout, s.authTimedOut)
	}
	return s
}

func (s *Session) Tenant() string { return s.tenant }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AccountID returns the upstream account id after pairing, empty before.
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// LastError returns the most recent failure detail.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// WasAuthenticated reports whether this session ever completed pairing.
func (s *Session) WasAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.everAuth
}

// WaitUntilReady blocks until authentication resolves or ctx expires.
// The stored outcome is stable: once resolved, every caller gets the
// same result.
func (s *Session) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentChallenge returns the active pairing challenge, nil when the
// session is not awaiting a scan or the challenge expired.
func (s *Session) CurrentChallenge() *Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireChallengeLocked()
	if s.challenge == nil {
		return nil
	}
	c := *s.challenge
	return &c
}

// WaitChallenge blocks until a challenge is available, authentication
// resolves, or ctx expires. Returns the challenge, or nil when the
// session resolved without one (stored credentials logged in silently).
func (s *Session) WaitChallenge(ctx context.Context) (*Challenge, error) {
	for {
		s.mu.Lock()
		s.expireChallengeLocked()
		if s.challenge != nil {
			c := *s.challenge
			s.mu.Unlock()
			return &c, nil
		}
		notify := s.challengeCh
		s.mu.Unlock()

		select {
		case <-s.readyCh:
			if s.readyErr != nil {
				return nil, s.readyErr
			}
			return nil, nil
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// apply is the driver event sink. It owns every state transition.
func (s *Session) apply(evt Event) {
	s.mu.Lock()
	from := s.state

	switch evt.Kind {
	case EventChallenge:
		if s.state == StateAuthenticated || s.state == StateAuthFailed {
			s.mu.Unlock()
			return
		}
		s.expireChallengeLocked()
		if s.challenge != nil {
			// Renewal while the issued challenge is still valid. Keep
			// the code stable for whoever is looking at it.
			s.mu.Unlock()
			return
		}
		c := evt.Challenge
		if c == nil {
			s.mu.Unlock()
			return
		}
		cc := *c
		if cc.IssuedAt.IsZero() {
			cc.IssuedAt = s.now()
		}
		if cc.ExpireAt.IsZero() {
			cc.ExpireAt = cc.IssuedAt.Add(s.challengeTTL)
		}
		s.challenge = &cc
		close(s.challengeCh)
		s.challengeCh = make(chan struct{})
		s.state = StateAwaitingScan
		s.mu.Unlock()
		if from != StateAwaitingScan {
			s.fireTransition(from, StateAwaitingScan, "challenge issued")
		}
		return

	case EventAuthenticated:
		if s.state == StateAuthFailed {
			s.mu.Unlock()
			return
		}
		s.challenge = nil
		s.state = StateAuthenticated
		s.accountID = evt.AccountID
		s.everAuth = true
		s.lastError = ""
		s.reconnects = 0
		s.mu.Unlock()
		s.resolveReady(nil)
		if from != StateAuthenticated {
			s.fireTransition(from, StateAuthenticated, evt.AccountID)
		}
		return

	case EventAuthFailed, EventLoggedOut:
		if s.state == StateAuthFailed {
			s.mu.Unlock()
			return
		}
		s.challenge = nil
		s.state = StateAuthFailed
		s.lastError = evt.Reason
		cause := wrapReason(ErrAuthRejected, evt.Reason)
		s.mu.Unlock()
		// A resolved ready signal stays resolved; only a pending one
		// observes the rejection.
		s.resolveReady(cause)
		s.fireTransition(from, StateAuthFailed, evt.Reason)
		if s.onTerminal != nil {
			s.onTerminal(s, cause)
		}
		return

	case EventDisconnected:
		if s.state != StateAuthenticated {
			s.mu.Unlock()
			return
		}
		s.state = StateDisconnected
		s.lastError = evt.Reason
		s.mu.Unlock()
		s.fireTransition(StateAuthenticated, StateDisconnected, evt.Reason)
		return

	default:
		s.mu.Unlock()
	}
}

func (s *Session) authTimedOut() {
	s.mu.Lock()
	if s.state != StateInitializing && s.state != StateAwaitingScan {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateAuthFailed
	s.challenge = nil
	s.lastError = "authentication window elapsed"
	s.mu.Unlock()

	zap.L().Warn("session authentication timed out", zap.String("tenant", s.tenant))
	s.resolveReady(ErrAuthTimeout)
	s.fireTransition(from, StateAuthFailed, "authentication window elapsed")
	if s.onTerminal != nil {
		s.onTerminal(s, ErrAuthTimeout)
	}
}

// abandon resolves a pending ready signal when the session is torn
// down before authentication completed.
func (s *Session) abandon(cause error) {
	s.resolveReady(cause)
}

func (s *Session) bumpReconnect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return s.reconnects
}

func (s *Session) resolveReady(err error) {
	s.readyOnce.Do(func() {
		s.readyErr = err
		if s.authTimer != nil {
			s.authTimer.Stop()
		}
		close(s.readyCh)
	})
}

func (s *Session) expireChallengeLocked() {
	if s.challenge != nil && s.challenge.Expired(s.now()) {
		s.challenge = nil
	}
}

func (s *Session) fireTransition(from, to State, detail string) {
	if s.transition != nil {
		s.transition(s.tenant, from, to, detail)
	}
}

func wrapReason(base error, reason string) error {
	if reason == "" {
		return base
	}
	return &reasonError{base: base, reason: reason}
}

type reasonError struct {
	base   error
	reason string
}

func (e *reasonError) Error() string { return e.base.Error() + ": " + e.reason }
func (e *reasonError) Unwrap() error { return e.base }
