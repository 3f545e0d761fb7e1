package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

const (
	StrategyReconnect = "reconnect"
	StrategyEvict     = "evict"
)

const (
	DefaultAuthTimeout    = 60 * time.Second
	DefaultChallengeTTL   = 2 * time.Minute
	DefaultCacheTTL       = 5 * time.Minute
	DefaultSignoutTimeout = 10 * time.Second
	DefaultHealthInterval = 30 * time.Second
)

// Config tunes the session manager. Zero values fall back to the
// defaults above.
type Config struct {
	AuthTimeout    time.Duration
	ChallengeTTL   time.Duration
	CacheTTL       time.Duration
	SignoutTimeout time.Duration
	HealthInterval time.Duration
	Strategy       string
	HardLogout     bool
	OnTransition   TransitionFunc
}

func (c Config) withDefaults() Config {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.SignoutTimeout <= 0 {
		c.SignoutTimeout = DefaultSignoutTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.Strategy != StrategyEvict {
		c.Strategy = StrategyReconnect
	}
	return c
}

// GroupInfo is the projected listing entry the gateway exposes.
type GroupInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Status is a read-only session snapshot. Reading it never constructs
// a session.
type Status struct {
	Tenant    string `json:"tenant"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	LoggedIn  bool   `json:"logged_in"`
	AccountID string `json:"account_id,omitempty"`
	Challenge bool   `json:"challenge_pending"`
	LastError string `json:"last_error,omitempty"`
}

// ChallengeInfo is the pairing view returned to API callers.
type ChallengeInfo struct {
	State    string    `json:"state"`
	Code     string    `json:"code,omitempty"`
	IssuedAt time.Time `json:"issued_at,omitempty"`
	ExpireAt time.Time `json:"expire_at,omitempty"`
}

// entry is a registry slot. done closes when construction finishes;
// exactly one of sess/err is set afterwards.
type entry struct {
	done chan struct{}
	sess *Session
	err  error
}

// Manager owns every tenant session. Operations for different tenants
// never serialize on each other; per tenant the only strict guarantee
// is a single driver construction at a time.
type Manager struct {
	cfg      Config
	factory  DriverFactory
	entitler Entitler
	cache    *listingCache

	mu       sync.RWMutex
	sessions map[string]*entry

	stopCh  chan struct{}
	stopped sync.Once
}

func NewManager(factory DriverFactory, entitler Entitler, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	if entitler == nil {
		entitler = AllowAll{}
	}
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		entitler: entitler,
		cache:    newListingCache(cfg.CacheTTL),
		sessions: make(map[string]*entry),
		stopCh:   make(chan struct{}),
	}
}

// Acquire returns the tenant's live session, waiting on an in-flight
// construction or starting one when the slot is empty.
func (m *Manager) Acquire(ctx context.Context, tenant string) (*Session, error) {
	for {
		m.mu.Lock()
		e, ok := m.sessions[tenant]
		if !ok {
			e = &entry{done: make(chan struct{})}
			m.sessions[tenant] = e
			m.mu.Unlock()
			return m.construct(ctx, tenant, e)
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.done:
		}
		if e.err != nil {
			return nil, e.err
		}
		if e.sess.State() == StateAuthFailed {
			// Terminal leftover, clear the slot and build fresh.
			m.evictEntry(tenant, e)
			continue
		}
		return e.sess, nil
	}
}

// construct runs with the registry slot already reserved by e.
func (m *Manager) construct(ctx context.Context, tenant string, e *entry) (*Session, error) {
	sess, err := m.build(ctx, tenant)

	m.mu.Lock()
	current := m.sessions[tenant]
	if err != nil {
		e.err = errors.Wrapf(ErrConstruction, "tenant %s: %s", tenant, err)
		if current == e {
			delete(m.sessions, tenant)
		}
		m.mu.Unlock()
		close(e.done)
		zap.L().Error("session construction failed",
			zap.String("tenant", tenant), zap.Error(err))
		return nil, e.err
	}
	evicted := current != e
	if !evicted {
		e.sess = sess
	}
	m.mu.Unlock()
	close(e.done)

	if evicted {
		// Logged out while the build was in flight. Tear the orphan
		// down so only the registered session holds a driver.
		sess.abandon(errors.Wrap(ErrNotReady, "evicted during construction"))
		sess.driver.Dispose()
		return nil, errors.Wrapf(ErrConstruction, "tenant %s: evicted during construction", tenant)
	}

	zap.L().Info("session constructed",
		zap.String("tenant", tenant),
		zap.String("store", sess.driver.CredentialRef()))
	return sess, nil
}

func (m *Manager) build(ctx context.Context, tenant string) (*Session, error) {
	driver, err := m.factory.New(ctx, tenant)
	if err != nil {
		return nil, err
	}

	sess := newSession(tenant, driver, m.cfg.AuthTimeout, m.cfg.ChallengeTTL, m.cfg.OnTransition)
	sess.onTerminal = m.evictOnTerminal

	// The sink goes in through Connect so it is registered before any
	// connection activity; an instant login event cannot be missed.
	if err := driver.Connect(ctx, sess.apply); err != nil {
		sess.abandon(errors.Wrap(ErrConstruction, "connect failed"))
		driver.Dispose()
		return nil, err
	}
	return sess, nil
}

// Peek returns the registered session without constructing one.
func (m *Manager) Peek(tenant string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.sessions[tenant]; ok {
		select {
		case <-e.done:
			return e.sess
		default:
		}
	}
	return nil
}

// Challenge returns the tenant's pairing state, constructing the
// session when absent and waiting until a challenge is issued, the
// stored credentials log in silently, or ctx expires.
func (m *Manager) Challenge(ctx context.Context, tenant string) (*ChallengeInfo, error) {
	if err := m.entitler.Entitled(ctx, tenant); err != nil {
		return nil, err
	}
	s, err := m.Acquire(ctx, tenant)
	if err != nil {
		return nil, err
	}
	c, err := s.WaitChallenge(ctx)
	if err != nil {
		return nil, err
	}
	info := &ChallengeInfo{State: s.State().String()}
	if c != nil {
		info.Code = c.Code
		info.IssuedAt = c.IssuedAt
		info.ExpireAt = c.ExpireAt
	}
	return info, nil
}

// ListGroups returns the tenant's group conversations, served from the
// listing cache while fresh.
func (m *Manager) ListGroups(ctx context.Context, tenant string) ([]GroupInfo, error) {
	if err := m.entitler.Entitled(ctx, tenant); err != nil {
		return nil, err
	}
	if groups, ok := m.cache.get(tenant); ok {
		return groups, nil
	}

	s, err := m.ready(ctx, tenant)
	if err != nil {
		return nil, err
	}
	chats, err := s.driver.ListChats(ctx)
	if err != nil {
		return nil, Upstream("list chats", err)
	}

	groups := make([]GroupInfo, 0, len(chats))
	for _, c := range chats {
		if !c.IsGroup {
			continue
		}
		name := norm.NFC.String(strings.TrimSpace(c.Name))
		if name == "" {
			name = c.ID
		}
		groups = append(groups, GroupInfo{ID: c.ID, Name: name})
	}
	m.cache.put(tenant, groups)
	return groups, nil
}

// Send delivers text to a chat, blocking until the session is ready.
func (m *Manager) Send(ctx context.Context, tenant, chatID, text string) (string, error) {
	if err := m.entitler.Entitled(ctx, tenant); err != nil {
		return "", err
	}
	s, err := m.ready(ctx, tenant)
	if err != nil {
		return "", err
	}
	id, err := s.driver.SendText(ctx, chatID, text)
	if err != nil {
		return "", Upstream("send text", err)
	}
	return id, nil
}

// MentionAll broadcasts text to a group, tagging every participant.
// Rejects non-group chats before anything is sent.
func (m *Manager) MentionAll(ctx context.Context, tenant, chatID, text string) (string, error) {
	if err := m.entitler.Entitled(ctx, tenant); err != nil {
		return "", err
	}
	s, err := m.ready(ctx, tenant)
	if err != nil {
		return "", err
	}
	participants, err := s.driver.Participants(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrNotAGroup) {
			return "", err
		}
		return "", Upstream("resolve participants", err)
	}
	id, err := s.driver.SendMention(ctx, chatID, text, participants)
	if err != nil {
		return "", Upstream("send mention", err)
	}
	return id, nil
}

// ready acquires the session and blocks until it is usable.
func (m *Manager) ready(ctx context.Context, tenant string) (*Session, error) {
	s, err := m.Acquire(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if err := s.WaitUntilReady(ctx); err != nil {
		return nil, err
	}
	if st := s.State(); st != StateAuthenticated {
		return nil, errors.Wrapf(ErrNotReady, "tenant %s is %s", tenant, st)
	}
	return s, nil
}

// Logout removes the tenant's session. Absent sessions are a success.
// The registry slot is free for a fresh build the moment this returns
// eviction, while the remote sign-out and disposal continue in bounded
// time. purge additionally removes the stored credentials.
func (m *Manager) Logout(ctx context.Context, tenant string, purge bool) bool {
	m.mu.Lock()
	e, ok := m.sessions[tenant]
	if ok {
		delete(m.sessions, tenant)
	}
	m.mu.Unlock()
	m.cache.invalidate(tenant)

	if !ok {
		if purge {
			m.purgeCredentials(tenant)
		}
		return false
	}

	select {
	case <-e.done:
		m.teardown(tenant, e.sess, purge)
	case <-ctx.Done():
		go func() {
			<-e.done
			m.teardown(tenant, e.sess, purge)
		}()
	}
	return true
}

func (m *Manager) teardown(tenant string, s *Session, purge bool) {
	if s == nil {
		if purge {
			m.purgeCredentials(tenant)
		}
		return
	}
	s.abandon(errors.Wrap(ErrNotReady, "logged out"))

	if s.WasAuthenticated() || s.driver.Authenticated() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SignoutTimeout)
		if err := s.driver.SignOut(ctx); err != nil {
			zap.L().Warn("remote sign-out incomplete",
				zap.String("tenant", tenant), zap.Error(err))
		}
		cancel()
	}

	s.driver.Dispose()
	if purge {
		m.purgeCredentials(tenant)
	}
	zap.L().Info("session disposed",
		zap.String("tenant", tenant), zap.Bool("purged", purge))
}

func (m *Manager) purgeCredentials(tenant string) {
	if err := m.factory.Purge(tenant); err != nil {
		zap.L().Warn("credential purge incomplete",
			zap.String("tenant", tenant), zap.Error(err))
	}
}

// Status reports the session snapshot without constructing anything.
func (m *Manager) Status(tenant string) Status {
	s := m.Peek(tenant)
	if s == nil {
		return Status{Tenant: tenant, State: "ABSENT"}
	}
	return Status{
		Tenant:    tenant,
		State:     s.State().String(),
		Connected: s.driver.Connected(),
		LoggedIn:  s.driver.Authenticated(),
		AccountID: s.AccountID(),
		Challenge: s.CurrentChallenge() != nil,
		LastError: s.LastError(),
	}
}

// Tenants lists tenants currently holding a registry slot.
func (m *Manager) Tenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for tenant := range m.sessions {
		out = append(out, tenant)
	}
	return out
}

// Restore rebuilds sessions for tenants with retained credentials,
// bounded to limit concurrent builds. Failures are logged per tenant
// and do not stop the rest.
func (m *Manager) Restore(ctx context.Context, tenants []string, limit int) {
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			if err := m.entitler.Entitled(gctx, tenant); err != nil {
				zap.L().Info("restore skipped", zap.String("tenant", tenant), zap.Error(err))
				return nil
			}
			if _, err := m.Acquire(gctx, tenant); err != nil {
				zap.L().Warn("session restore failed",
					zap.String("tenant", tenant), zap.Error(err))
				return nil
			}
			zap.L().Info("session restore started", zap.String("tenant", tenant))
			return nil
		})
	}
	_ = g.Wait()
}

// SweepCache drops expired listing entries.
func (m *Manager) SweepCache() int {
	return m.cache.sweep()
}

// Shutdown disposes every session without signing out, so credentials
// survive for the next start.
func (m *Manager) Shutdown() {
	m.stopped.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	entries := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for tenant, e := range entries {
		select {
		case <-e.done:
		default:
			continue
		}
		if e.sess != nil {
			e.sess.abandon(errors.Wrap(ErrNotReady, "gateway shutting down"))
			e.sess.driver.Dispose()
			zap.L().Info("session closed", zap.String("tenant", tenant))
		}
	}
}

func (m *Manager) evictOnTerminal(s *Session, cause error) {
	m.mu.Lock()
	e, ok := m.sessions[s.tenant]
	if ok && e.sess == s {
		delete(m.sessions, s.tenant)
	} else {
		ok = false
	}
	m.mu.Unlock()
	if ok {
		m.cache.invalidate(s.tenant)
		zap.L().Warn("session evicted",
			zap.String("tenant", s.tenant), zap.Error(cause))
		go s.driver.Dispose()
	}
}

func (m *Manager) evictEntry(tenant string, e *entry) {
	m.mu.Lock()
	if cur, ok := m.sessions[tenant]; ok && cur == e {
		delete(m.sessions, tenant)
	}
	m.mu.Unlock()
}
