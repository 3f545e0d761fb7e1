package wadriver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	// Database drivers for the whatsmeow credential store.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/talkincode/wagate/internal/session"
)

const (
	DriverSqlite   = "sqlite3"
	DriverPostgres = "postgres"
)

var tenantCodePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Config locates the credential stores.
type Config struct {
	// StorageDir holds the per-tenant sqlite files, the binding index
	// and diagnostic artifacts.
	StorageDir string
	// Driver selects the whatsmeow store backend, sqlite3 or postgres.
	Driver string
	// PostgresDSN is required when Driver is postgres. All tenants
	// share the store database there, split by device row.
	PostgresDSN string
}

// Factory builds WhatsApp drivers bound to per-tenant credential
// storage. Implements session.DriverFactory.
type Factory struct {
	cfg  Config
	bind *bindingIndex
}

var _ session.DriverFactory = (*Factory)(nil)

func NewFactory(cfg Config) (*Factory, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSqlite
	}
	if cfg.Driver != DriverSqlite && cfg.Driver != DriverPostgres {
		return nil, errors.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if cfg.Driver == DriverPostgres && cfg.PostgresDSN == "" {
		return nil, errors.New("postgres store requires a dsn")
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}
	bind, err := openBindingIndex(filepath.Join(cfg.StorageDir, "bindings.db"))
	if err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, bind: bind}, nil
}

// Close releases the binding index. Drivers are closed through their
// own Dispose.
func (f *Factory) Close() error {
	return f.bind.close()
}

func (f *Factory) storePath(tenant string) string {
	return filepath.Join(f.cfg.StorageDir, "whatsapp-"+tenant+".db")
}

func (f *Factory) challengePath(tenant string) string {
	return filepath.Join(f.cfg.StorageDir, "challenge-"+tenant+".txt")
}

// New opens (or creates) the tenant's credential store and wraps it in
// a connected-on-demand driver. The same tenant always maps to the
// same store, so retained credentials log in again without a QR scan.
func (f *Factory) New(ctx context.Context, tenant string) (session.Driver, error) {
	if !tenantCodePattern.MatchString(tenant) {
		return nil, errors.Errorf("invalid tenant code %q", tenant)
	}

	logger := newWaLogger(tenant)
	var (
		container *sqlstore.Container
		device    *store.Device
		ref       string
		err       error
	)

	switch f.cfg.Driver {
	case DriverPostgres:
		container, err = sqlstore.New(ctx, "postgres", f.cfg.PostgresDSN, logger)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres store")
		}
		if jidStr := f.bind.get(tenant); jidStr != "" {
			jid, perr := types.ParseJID(jidStr)
			if perr == nil {
				device, err = container.GetDevice(ctx, jid)
				if err != nil {
					_ = container.Close()
					return nil, errors.Wrap(err, "load bound device")
				}
			}
		}
		if device == nil {
			device = container.NewDevice()
		}
		ref = "postgres:" + tenant

	default:
		path := f.storePath(tenant)
		dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)
		container, err = sqlstore.New(ctx, "sqlite3", dsn, logger)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite store")
		}
		device, err = container.GetFirstDevice(ctx)
		if err != nil {
			_ = container.Close()
			return nil, errors.Wrap(err, "load device")
		}
		ref = path
	}

	client := whatsmeow.NewClient(device, logger)
	// Reconnection is the health monitor's decision, the protocol
	// client must not race it with its own retries.
	client.EnableAutoReconnect = false
	client.ManualHistorySyncDownload = true

	return &Driver{
		tenant:        tenant,
		factory:       f,
		container:     container,
		client:        client,
		credentialRef: ref,
	}, nil
}

// Purge removes the tenant's durable credentials: the sqlite files or
// the postgres device row, plus the binding and challenge artifacts.
func (f *Factory) Purge(tenant string) error {
	if !tenantCodePattern.MatchString(tenant) {
		return errors.Errorf("invalid tenant code %q", tenant)
	}

	if f.cfg.Driver == DriverPostgres {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if jidStr := f.bind.get(tenant); jidStr != "" {
			if err := f.deleteDeviceRow(ctx, jidStr); err != nil {
				return err
			}
		}
	} else {
		base := f.storePath(tenant)
		for _, path := range []string{base, base + "-wal", base + "-shm"} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "remove %s", path)
			}
		}
	}

	if err := os.Remove(f.challengePath(tenant)); err != nil && !os.IsNotExist(err) {
		zap.L().Debug("challenge artifact removal failed",
			zap.String("tenant", tenant), zap.Error(err))
	}
	return f.bind.delete(tenant)
}

func (f *Factory) deleteDeviceRow(ctx context.Context, jidStr string) error {
	jid, err := types.ParseJID(jidStr)
	if err != nil {
		return nil
	}
	container, err := sqlstore.New(ctx, "postgres", f.cfg.PostgresDSN, newWaLogger("purge"))
	if err != nil {
		return errors.Wrap(err, "open postgres store")
	}
	defer container.Close()
	device, err := container.GetDevice(ctx, jid)
	if err != nil || device == nil {
		return err
	}
	return errors.Wrap(device.Delete(ctx), "delete device row")
}

// Driver adapts one whatsmeow client to the session capability
// interface. Exclusive to a single tenant session.
type Driver struct {
	tenant        string
	factory       *Factory
	container     *sqlstore.Container
	client        *whatsmeow.Client
	credentialRef string

	mu         sync.Mutex
	sink       session.EventSink
	handlerID  uint32
	registered bool
	qrCancel   context.CancelFunc
	disposed   bool
}

var _ session.Driver = (*Driver)(nil)

func (d *Driver) Connect(ctx context.Context, sink session.EventSink) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return errors.New("driver disposed")
	}
	if !d.registered {
		d.sink = sink
		d.handlerID = d.client.AddEventHandler(d.handleEvent)
		d.registered = true
	}
	if d.client.IsConnected() {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	// Fresh devices pair through the QR stream, which has to be opened
	// before the websocket comes up or the first code is lost.
	if d.client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := d.client.GetQRChannel(qrCtx)
		switch {
		case err == nil:
			d.mu.Lock()
			d.qrCancel = cancel
			d.mu.Unlock()
			go d.pumpQR(qrChan)
		case errors.Is(err, whatsmeow.ErrQRStoreContainsID):
			cancel()
		default:
			cancel()
			return errors.Wrap(err, "open qr channel")
		}
	}

	if err := d.client.Connect(); err != nil {
		d.cancelQR()
		return errors.Wrap(err, "connect")
	}
	return nil
}

// pumpQR translates the pairing stream into session events. The
// channel closes on pairing success, timeout or disposal.
func (d *Driver) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			now := time.Now()
			d.emit(session.Event{
				Kind: session.EventChallenge,
				Challenge: &session.Challenge{
					Code:     item.Code,
					IssuedAt: now,
					ExpireAt: now.Add(item.Timeout),
				},
			})
			d.saveChallengeCopy(item.Code)
		case "success":
			// PairSuccess and Connected arrive through the event
			// handler, nothing to do here.
		case "timeout":
			d.emit(session.Event{Kind: session.EventAuthFailed, Reason: "pairing window expired"})
		default:
			if item.Error != nil {
				d.emit(session.Event{Kind: session.EventAuthFailed, Reason: item.Error.Error()})
			}
		}
	}
	d.cancelQR()
}

// saveChallengeCopy keeps the last issued code next to the credential
// store so support can read it without an API round trip.
func (d *Driver) saveChallengeCopy(code string) {
	path := d.factory.challengePath(d.tenant)
	if err := os.WriteFile(path, []byte(code+"\n"), 0o600); err != nil {
		zap.L().Debug("challenge artifact write failed",
			zap.String("tenant", d.tenant), zap.Error(err))
	}
}

func (d *Driver) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		if id := d.client.Store.ID; id != nil {
			d.emit(session.Event{Kind: session.EventAuthenticated, AccountID: id.String()})
		}
	case *events.PairSuccess:
		if err := d.factory.bind.put(d.tenant, v.ID.String()); err != nil {
			zap.L().Warn("binding index update failed",
				zap.String("tenant", d.tenant), zap.Error(err))
		}
	case *events.Disconnected:
		d.emit(session.Event{Kind: session.EventDisconnected, Reason: "connection closed"})
	case *events.StreamReplaced:
		d.emit(session.Event{Kind: session.EventDisconnected, Reason: "stream replaced by another client"})
	case *events.LoggedOut:
		d.emit(session.Event{Kind: session.EventLoggedOut, Reason: "logged out: " + v.Reason.String()})
	case *events.TemporaryBan:
		d.emit(session.Event{
			Kind:   session.EventAuthFailed,
			Reason: fmt.Sprintf("temporarily banned (%s), expires in %s", v.Code, v.Expire),
		})
	case *events.ConnectFailure:
		d.emit(session.Event{
			Kind:   session.EventAuthFailed,
			Reason: fmt.Sprintf("connect failure %s: %s", v.Reason, v.Message),
		})
	case *events.PairError:
		d.emit(session.Event{Kind: session.EventAuthFailed, Reason: "pairing error: " + v.Error.Error()})
	case *events.ClientOutdated:
		d.emit(session.Event{Kind: session.EventAuthFailed, Reason: "protocol client outdated"})
	}
}

func (d *Driver) emit(evt session.Event) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink(evt)
	}
}

func (d *Driver) ListChats(ctx context.Context) ([]session.ChatSummary, error) {
	groups, err := d.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get joined groups")
	}
	chats := make([]session.ChatSummary, 0, len(groups))
	for _, g := range groups {
		chats = append(chats, session.ChatSummary{
			ID:      g.JID.String(),
			Name:    g.Name,
			IsGroup: true,
		})
	}
	return chats, nil
}

func (d *Driver) SendText(ctx context.Context, chatID, text string) (string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", errors.Wrapf(err, "parse chat id %q", chatID)
	}
	resp, err := d.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *Driver) SendMention(ctx context.Context, chatID, text string, mentions []string) (string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", errors.Wrapf(err, "parse chat id %q", chatID)
	}
	resp, err := d.client.SendMessage(ctx, jid, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				MentionedJID: mentions,
			},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *Driver) Participants(ctx context.Context, chatID string) ([]string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, errors.Wrapf(session.ErrNotAGroup, "unparseable chat id %q", chatID)
	}
	if jid.Server != types.GroupServer {
		return nil, errors.Wrapf(session.ErrNotAGroup, "chat %q", chatID)
	}
	info, err := d.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, errors.Wrap(err, "get group info")
	}
	members := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		if p.JID.IsEmpty() {
			continue
		}
		members = append(members, p.JID.String())
	}
	return members, nil
}

// SignOut invalidates the pairing upstream. When the logout call
// cannot complete, the transport is dropped anyway.
func (d *Driver) SignOut(ctx context.Context) error {
	if err := d.client.Logout(ctx); err != nil {
		d.client.Disconnect()
		return errors.Wrap(err, "logout")
	}
	return nil
}

func (d *Driver) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	if d.registered {
		d.client.RemoveEventHandler(d.handlerID)
		d.registered = false
	}
	cancel := d.qrCancel
	d.qrCancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.client.Disconnect()
	if err := d.container.Close(); err != nil {
		zap.L().Debug("credential store close failed",
			zap.String("tenant", d.tenant), zap.Error(err))
	}
}

func (d *Driver) cancelQR() {
	d.mu.Lock()
	cancel := d.qrCancel
	d.qrCancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Driver) Connected() bool     { return d.client.IsConnected() }
func (d *Driver) Authenticated() bool { return d.client.IsLoggedIn() }

func (d *Driver) CredentialRef() string { return d.credentialRef }
