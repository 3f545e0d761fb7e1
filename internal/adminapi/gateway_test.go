package adminapi

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/wagate/internal/billing"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/pkg/common"
)

type fakeDriver struct {
	mu        sync.Mutex
	sink      session.EventSink
	connected bool
	loggedIn  bool
	chats     []session.ChatSummary
	members   map[string][]string
	onConnect func(d *fakeDriver)
	sent      []string
}

func (d *fakeDriver) Connect(ctx context.Context, sink session.EventSink) error {
	d.mu.Lock()
	if d.sink == nil {
		d.sink = sink
	}
	d.connected = true
	onConnect := d.onConnect
	d.mu.Unlock()
	if onConnect != nil {
		onConnect(d)
	}
	return nil
}

func (d *fakeDriver) emit(evt session.Event) {
	d.mu.Lock()
	switch evt.Kind {
	case session.EventAuthenticated:
		d.connected = true
		d.loggedIn = true
	case session.EventAuthFailed, session.EventLoggedOut:
		d.loggedIn = false
	case session.EventDisconnected:
		d.connected = false
	}
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink(evt)
	}
}

func (d *fakeDriver) ListChats(ctx context.Context) ([]session.ChatSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]session.ChatSummary(nil), d.chats...), nil
}

func (d *fakeDriver) SendText(ctx context.Context, chatID, text string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, chatID+"|"+text)
	return "MSG-100", nil
}

func (d *fakeDriver) SendMention(ctx context.Context, chatID, text string, mentions []string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, chatID+"|@|"+text)
	return "MSG-200", nil
}

func (d *fakeDriver) Participants(ctx context.Context, chatID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.members[chatID]
	if !ok {
		return nil, session.ErrNotAGroup
	}
	return members, nil
}

func (d *fakeDriver) SignOut(ctx context.Context) error { return nil }

func (d *fakeDriver) Dispose() {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
}

func (d *fakeDriver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDriver) Authenticated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loggedIn
}

func (d *fakeDriver) CredentialRef() string { return "fake-store" }

type fakeFactory struct {
	mu      sync.Mutex
	drivers map[string]*fakeDriver
	purged  []string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{drivers: make(map[string]*fakeDriver)}
}

// driverFor preconfigures the driver a tenant will get from New.
func (f *fakeFactory) driverFor(tenant string, d *fakeDriver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drivers[tenant] = d
}

func (f *fakeFactory) New(ctx context.Context, tenant string) (session.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.drivers[tenant]; ok {
		return d, nil
	}
	d := &fakeDriver{onConnect: func(d *fakeDriver) {
		d.emit(session.Event{Kind: session.EventAuthenticated, AccountID: tenant + "@test"})
	}}
	f.drivers[tenant] = d
	return d, nil
}

func (f *fakeFactory) Purge(tenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, tenant)
	return nil
}

func newTestManager(t *testing.T, factory session.DriverFactory, entitler session.Entitler) *session.Manager {
	t.Helper()
	m := session.NewManager(factory, entitler, session.Config{
		AuthTimeout:  2 * time.Second,
		ChallengeTTL: time.Minute,
	})
	t.Cleanup(m.Shutdown)
	return m
}

func TestSessionStatusAbsentWithoutSession(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	rec := env.api(t, http.MethodGet, "/api/gateway/ghost/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.Equal(t, "ABSENT", data["state"])
}

func TestChallengeReturnsPairingCode(t *testing.T) {
	factory := newFakeFactory()
	factory.driverFor("acme", &fakeDriver{onConnect: func(d *fakeDriver) {
		now := time.Now()
		d.emit(session.Event{Kind: session.EventChallenge, Challenge: &session.Challenge{
			Code:     "fake-qr-payload",
			IssuedAt: now,
			ExpireAt: now.Add(time.Minute),
		}})
	}})
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	rec := env.api(t, http.MethodGet, "/api/gateway/acme/challenge?wait=2", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.Equal(t, "AWAITING_SCAN", data["state"])
	assert.Equal(t, "fake-qr-payload", data["code"])
}

func TestChallengeReportsSilentLogin(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	rec := env.api(t, http.MethodGet, "/api/gateway/acme/challenge?wait=2", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.Equal(t, "AUTHENTICATED", data["state"])
	_, hasCode := data["code"]
	assert.False(t, hasCode, "silent login must not carry a pairing code")
}

func TestConnectWarmsSessionWithoutPairingWait(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	rec := env.api(t, http.MethodPost, "/api/gateway/acme/connect", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.Equal(t, "AUTHENTICATED", data["state"])
	assert.Equal(t, true, data["connected"])
}

func TestSendDeliversThroughSession(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	rec := env.api(t, http.MethodPost, "/api/gateway/acme/send", map[string]string{
		"chat_id": "room1@g.us",
		"text":    "hello there",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MSG-100", dataField(t, rec)["message_id"])

	factory.mu.Lock()
	driver := factory.drivers["acme"]
	factory.mu.Unlock()
	require.NotNil(t, driver)
	assert.Contains(t, driver.sent, "room1@g.us|hello there")
}

func TestSendValidatesPayload(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	rec := env.api(t, http.MethodPost, "/api/gateway/acme/send", map[string]string{
		"chat_id": "room1@g.us",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec)["error"])
}

func TestMentionAllRejectsDirectChat(t *testing.T) {
	factory := newFakeFactory()
	driver := &fakeDriver{
		members: map[string][]string{"team@g.us": {"a@s", "b@s"}},
		onConnect: func(d *fakeDriver) {
			d.emit(session.Event{Kind: session.EventAuthenticated, AccountID: "acme@test"})
		},
	}
	factory.driverFor("acme", driver)
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	rec := env.api(t, http.MethodPost, "/api/gateway/acme/mention-all", map[string]string{
		"chat_id": "person@s.whatsapp.net",
		"text":    "all hands",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NOT_A_GROUP", decodeEnvelope(t, rec)["error"])
	assert.Empty(t, driver.sent)
}

func TestMentionAllTagsGroupMembers(t *testing.T) {
	factory := newFakeFactory()
	driver := &fakeDriver{
		members: map[string][]string{"team@g.us": {"a@s", "b@s"}},
		onConnect: func(d *fakeDriver) {
			d.emit(session.Event{Kind: session.EventAuthenticated, AccountID: "acme@test"})
		},
	}
	factory.driverFor("acme", driver)
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	rec := env.api(t, http.MethodPost, "/api/gateway/acme/mention-all", map[string]string{
		"chat_id": "team@g.us",
		"text":    "all hands",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MSG-200", dataField(t, rec)["message_id"])
	assert.Contains(t, driver.sent, "team@g.us|@|all hands")
}

func TestSendRejectsUnentitledTenant(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, nil)
	seedTenantRow(t, env.db, "acme", common.DISABLED)

	// The checker needs the test database, wire it after the env is up.
	checker := billing.NewChecker(env.db, 0)
	svc.Manager = newTestManager(t, factory, checker)
	svc.Billing = checker

	rec := env.api(t, http.MethodPost, "/api/gateway/acme/send", map[string]string{
		"chat_id": "room1@g.us",
		"text":    "hello",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_ENTITLED", decodeEnvelope(t, rec)["error"])
}

func TestLogoutEvictsAndReportsAbsent(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	warm := env.api(t, http.MethodPost, "/api/gateway/acme/connect", nil)
	require.Equal(t, http.StatusOK, warm.Code)

	rec := env.api(t, http.MethodPost, "/api/gateway/acme/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.Equal(t, true, data["existed"])
	assert.Equal(t, false, data["purged"])

	status := env.api(t, http.MethodGet, "/api/gateway/acme/status", nil)
	assert.Equal(t, "ABSENT", dataField(t, status)["state"])

	again := env.api(t, http.MethodPost, "/api/gateway/acme/logout", nil)
	assert.Equal(t, false, dataField(t, again)["existed"])
}

func TestLogoutPurgeRemovesCredentials(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	warm := env.api(t, http.MethodPost, "/api/gateway/acme/connect", nil)
	require.Equal(t, http.StatusOK, warm.Code)

	rec := env.api(t, http.MethodPost, "/api/gateway/acme/logout?purge=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataField(t, rec)["purged"])
	assert.Contains(t, factory.purged, "acme")
}

func TestListSessionsReportsLiveTenants(t *testing.T) {
	factory := newFakeFactory()
	env := newTestEnv(t, func(s *Services) {
		s.Manager = newTestManager(t, factory, nil)
	})

	require.Equal(t, http.StatusOK, env.api(t, http.MethodPost, "/api/gateway/acme/connect", nil).Code)
	require.Equal(t, http.StatusOK, env.api(t, http.MethodPost, "/api/gateway/globex/connect", nil).Code)

	rec := env.api(t, http.MethodGet, "/api/gateway/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list, ok := decodeEnvelope(t, rec)["data"].([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 2)
}
