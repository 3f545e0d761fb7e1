package session

import (
	"context"
	"time"
)

// ChatSummary is one conversation as reported by the upstream service.
type ChatSummary struct {
	ID      string
	Name    string
	IsGroup bool
}

// Challenge is a pairing challenge the account owner must scan.
type Challenge struct {
	Code     string
	IssuedAt time.Time
	ExpireAt time.Time
}

// Expired reports whether the challenge is past its validity window.
func (c *Challenge) Expired(now time.Time) bool {
	return !c.ExpireAt.IsZero() && now.After(c.ExpireAt)
}

type EventKind int

const (
	EventChallenge EventKind = iota + 1
	EventAuthenticated
	EventAuthFailed
	EventDisconnected
	EventLoggedOut
)

// Event is a lifecycle notification pushed by a driver.
type Event struct {
	Kind      EventKind
	Challenge *Challenge // EventChallenge only
	AccountID string     // EventAuthenticated only, upstream account id
	Reason    string
}

// EventSink receives driver events. Sinks must not block; drivers call
// them from their own event loops.
type EventSink func(evt Event)

// Driver is the upstream messaging capability one session drives. A
// driver instance is exclusive to a single tenant session.
type Driver interface {
	// Connect opens the upstream link. The sink is registered before
	// any connection activity so no event can be missed. Connect may
	// be called again after the transport drops; the sink stays
	// registered exactly once.
	Connect(ctx context.Context, sink EventSink) error

	// ListChats returns the conversations the account participates in.
	ListChats(ctx context.Context) ([]ChatSummary, error)

	// SendText delivers plain text to a chat and returns the upstream
	// message id.
	SendText(ctx context.Context, chatID, text string) (string, error)

	// SendMention delivers text tagging each listed participant.
	SendMention(ctx context.Context, chatID, text string, mentions []string) (string, error)

	// Participants lists the member ids of a group chat. Returns
	// ErrNotAGroup when chatID does not address a group.
	Participants(ctx context.Context, chatID string) ([]string, error)

	// SignOut invalidates the upstream pairing.
	SignOut(ctx context.Context) error

	// Dispose tears down the connection and releases local resources.
	// Safe to call more than once.
	Dispose()

	// Connected reports transport liveness.
	Connected() bool

	// Authenticated reports whether the account is logged in upstream.
	Authenticated() bool

	// CredentialRef names the durable credential namespace backing this
	// driver, for diagnostics and cleanup.
	CredentialRef() string
}

// DriverFactory builds drivers bound to per-tenant credential storage.
// The same tenant must always resolve to the same storage namespace so
// retained credentials survive process restarts.
type DriverFactory interface {
	New(ctx context.Context, tenant string) (Driver, error)

	// Purge removes the tenant's durable credentials.
	Purge(tenant string) error
}

// Entitler authorizes tenants before session-creating or message
// operations. Implementations return nil or an ErrNotEntitled wrap.
type Entitler interface {
	Entitled(ctx context.Context, tenant string) error
}

// AllowAll passes every tenant. Used by the pairing tool and tests.
type AllowAll struct{}

func (AllowAll) Entitled(ctx context.Context, tenant string) error { return nil }
