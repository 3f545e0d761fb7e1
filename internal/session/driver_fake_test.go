package session

import (
	"context"
	"sync"
	"time"
)

// fakeDriver scripts upstream behavior for manager and session tests.
type fakeDriver struct {
	mu           sync.Mutex
	sink         EventSink
	connected    bool
	authed       bool
	disposed     bool
	connectCalls int
	listCalls    int
	sendCalls    int
	mentionCalls int
	signoutCalls int

	connectErr   error
	connectEvts  []Event
	chats        []ChatSummary
	participants map[string][]string
	lastMentions []string
	sendErr      error
	signoutErr   error
	signoutBlock time.Duration
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{participants: map[string][]string{}}
}

func (d *fakeDriver) Connect(ctx context.Context, sink EventSink) error {
	d.mu.Lock()
	if d.sink == nil {
		d.sink = sink
	}
	d.connectCalls++
	if d.connectErr != nil {
		err := d.connectErr
		d.mu.Unlock()
		return err
	}
	d.connected = true
	evts := d.connectEvts
	d.connectEvts = nil
	registered := d.sink
	d.mu.Unlock()

	for _, evt := range evts {
		registered(evt)
	}
	return nil
}

// emit pushes an event through the registered sink, as the upstream
// event loop would.
func (d *fakeDriver) emit(evt Event) {
	d.mu.Lock()
	sink := d.sink
	switch evt.Kind {
	case EventAuthenticated:
		d.authed = true
	case EventAuthFailed, EventLoggedOut:
		d.authed = false
	case EventDisconnected:
		d.connected = false
	}
	d.mu.Unlock()
	if sink != nil {
		sink(evt)
	}
}

func (d *fakeDriver) dropTransport() {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
}

func (d *fakeDriver) ListChats(ctx context.Context) ([]ChatSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++
	return d.chats, nil
}

func (d *fakeDriver) SendText(ctx context.Context, chatID, text string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendCalls++
	if d.sendErr != nil {
		return "", d.sendErr
	}
	return "MSG-1", nil
}

func (d *fakeDriver) SendMention(ctx context.Context, chatID, text string, mentions []string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mentionCalls++
	d.lastMentions = append([]string(nil), mentions...)
	if d.sendErr != nil {
		return "", d.sendErr
	}
	return "MSG-M1", nil
}

func (d *fakeDriver) Participants(ctx context.Context, chatID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if members, ok := d.participants[chatID]; ok {
		return members, nil
	}
	return nil, ErrNotAGroup
}

func (d *fakeDriver) SignOut(ctx context.Context) error {
	d.mu.Lock()
	d.signoutCalls++
	block := d.signoutBlock
	err := d.signoutErr
	d.mu.Unlock()

	if block > 0 {
		select {
		case <-time.After(block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.authed = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Dispose() {
	d.mu.Lock()
	d.disposed = true
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
	return d.authed
}

func (d *fakeDriver) CredentialRef() string { return "fake-store" }

func (d *fakeDriver) stats() (connects, lists, sends, mentions, signouts int, disposed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCalls, d.listCalls, d.sendCalls, d.mentionCalls, d.signoutCalls, d.disposed
}

// fakeFactory hands out scripted drivers and records lifecycle calls.
type fakeFactory struct {
	mu       sync.Mutex
	news     int
	newErr   error
	newDelay time.Duration
	purged   []string
	drivers  map[string]*fakeDriver
	prepare  func(tenant string, d *fakeDriver)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{drivers: map[string]*fakeDriver{}}
}

func (f *fakeFactory) New(ctx context.Context, tenant string) (Driver, error) {
	f.mu.Lock()
	f.news++
	delay := f.newDelay
	err := f.newErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	d := newFakeDriver()
	f.mu.Lock()
	if f.prepare != nil {
		f.prepare(tenant, d)
	}
	f.drivers[tenant] = d
	f.mu.Unlock()
	return d, nil
}

func (f *fakeFactory) Purge(tenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, tenant)
	return nil
}

func (f *fakeFactory) constructions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.news
}

func (f *fakeFactory) driver(tenant string) *fakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[tenant]
}

func (f *fakeFactory) purgedTenants() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.purged...)
}

// denyAll rejects every tenant, for entitlement gating tests.
type denyAll struct{}

func (denyAll) Entitled(ctx context.Context, tenant string) error {
	return ErrNotEntitled
}
