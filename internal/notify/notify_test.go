package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/pkg/common"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notify.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Tenant{}, &domain.WaSession{}, &domain.WaEventLog{}))
	return db
}

func transitionAt(tenant, from, to, detail string, at time.Time) *SessionEvent {
	return &SessionEvent{Tenant: tenant, From: from, To: to, Detail: detail, At: at}
}

func TestSnapshotHookCreatesRowOnFirstTransition(t *testing.T) {
	db := newTestDB(t)
	h := NewSnapshotHook(db)
	at := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	require.NoError(t, h.Handle(context.Background(),
		transitionAt("acme", "INITIALIZING", "AWAITING_SCAN", "challenge issued", at)))

	var snap domain.WaSession
	require.NoError(t, db.Where("tenant_code = ?", "acme").First(&snap).Error)
	assert.Equal(t, "AWAITING_SCAN", snap.State)
	assert.Empty(t, snap.Jid)
	assert.True(t, snap.PairedAt.IsZero())
}

func TestSnapshotHookStampsPairingOnce(t *testing.T) {
	db := newTestDB(t)
	h := NewSnapshotHook(db)
	ctx := context.Background()
	first := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	jid := "628111000111:12@s.whatsapp.net"
	require.NoError(t, h.Handle(ctx,
		transitionAt("acme", "AWAITING_SCAN", "AUTHENTICATED", jid, first)))

	var snap domain.WaSession
	require.NoError(t, db.Where("tenant_code = ?", "acme").First(&snap).Error)
	assert.Equal(t, "AUTHENTICATED", snap.State)
	assert.Equal(t, jid, snap.Jid)
	assert.WithinDuration(t, first, snap.PairedAt, time.Second)

	// Transport drop records the error without touching pairing marks.
	require.NoError(t, h.Handle(ctx,
		transitionAt("acme", "AUTHENTICATED", "DISCONNECTED", "connection closed", first.Add(time.Hour))))
	require.NoError(t, db.Where("tenant_code = ?", "acme").First(&snap).Error)
	assert.Equal(t, "DISCONNECTED", snap.State)
	assert.Equal(t, "connection closed", snap.LastError)
	assert.WithinDuration(t, first, snap.PairedAt, time.Second)

	// Re-authentication clears the error and keeps the original
	// pairing timestamp.
	require.NoError(t, h.Handle(ctx,
		transitionAt("acme", "DISCONNECTED", "AUTHENTICATED", jid, first.Add(2*time.Hour))))
	require.NoError(t, db.Where("tenant_code = ?", "acme").First(&snap).Error)
	assert.Equal(t, "AUTHENTICATED", snap.State)
	assert.Empty(t, snap.LastError)
	assert.WithinDuration(t, first, snap.PairedAt, time.Second)
	assert.WithinDuration(t, first.Add(2*time.Hour), snap.LastOnlineAt, time.Second)
}

func TestAuditHookAppendsEveryTransition(t *testing.T) {
	db := newTestDB(t)
	h := NewAuditHook(db)
	ctx := context.Background()
	at := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	require.NoError(t, h.Handle(ctx,
		transitionAt("acme", "INITIALIZING", "AWAITING_SCAN", "challenge issued", at)))
	require.NoError(t, h.Handle(ctx,
		transitionAt("acme", "AWAITING_SCAN", "AUTHENTICATED", "628111@s.whatsapp.net", at.Add(time.Minute))))

	var logs []domain.WaEventLog
	require.NoError(t, db.Order("event_time ASC").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, "INITIALIZING>AWAITING_SCAN", logs[0].Event)
	assert.Equal(t, "AWAITING_SCAN>AUTHENTICATED", logs[1].Event)
}

func TestWebhookHookSkipsTenantsWithoutURL(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&domain.Tenant{
		ID: common.UUIDint64(), Code: "acme", Status: common.ENABLED,
	}).Error)
	h := NewWebhookHook(db)

	err := h.Handle(context.Background(),
		transitionAt("acme", "AUTHENTICATED", "DISCONNECTED", "connection closed", time.Now()))
	assert.NoError(t, err)
}

func TestWebhookHookPostsTransition(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := newTestDB(t)
	require.NoError(t, db.Create(&domain.Tenant{
		ID: common.UUIDint64(), Code: "acme", Status: common.ENABLED, WebhookURL: srv.URL,
	}).Error)
	h := NewWebhookHook(db)

	require.NoError(t, h.Handle(context.Background(),
		transitionAt("acme", "AWAITING_SCAN", "AUTHENTICATED", "628111@s.whatsapp.net", time.Now())))

	mu.Lock()
	defer mu.Unlock()
	var payload map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal(body, &payload))
	assert.Equal(t, "session.transition", payload["event"])
	assert.Equal(t, "acme", payload["tenant"])
	assert.Equal(t, "AUTHENTICATED", payload["to"])
}

func TestWebhookHookReportsEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := newTestDB(t)
	require.NoError(t, db.Create(&domain.Tenant{
		ID: common.UUIDint64(), Code: "acme", Status: common.ENABLED, WebhookURL: srv.URL,
	}).Error)
	h := NewWebhookHook(db)

	err := h.Handle(context.Background(),
		transitionAt("acme", "AUTHENTICATED", "DISCONNECTED", "connection closed", time.Now()))
	assert.Error(t, err)
}

type recordingHandler struct {
	name   string
	filter func(*SessionEvent) bool

	mu     sync.Mutex
	events []*SessionEvent
	panics bool
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) CanHandle(evt *SessionEvent) bool {
	if h.filter == nil {
		return true
	}
	return h.filter(evt)
}

func (h *recordingHandler) Handle(ctx context.Context, evt *SessionEvent) error {
	if h.panics {
		panic("handler exploded")
	}
	h.mu.Lock()
	h.events = append(h.events, evt)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestDispatcherFansOutToMatchingHandlers(t *testing.T) {
	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	defer pool.Release()

	all := &recordingHandler{name: "all"}
	authOnly := &recordingHandler{
		name:   "auth-only",
		filter: func(evt *SessionEvent) bool { return evt.To == "AUTHENTICATED" },
	}
	boom := &recordingHandler{name: "boom", panics: true}

	d, err := NewDispatcher(EventBus.New(), pool, boom, all, authOnly)
	require.NoError(t, err)

	d.Publish("acme", session.StateInitializing, session.StateAwaitingScan, "challenge issued")
	d.Publish("acme", session.StateAwaitingScan, session.StateAuthenticated, "628111@s.whatsapp.net")
	d.Flush()

	assert.Eventually(t, func() bool {
		return all.count() == 2 && authOnly.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
