package notify

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/internal/session"
)

// TopicSessionTransition is the bus topic carrying session lifecycle
// changes.
const TopicSessionTransition = "session.transition"

const handlerTimeout = 10 * time.Second

// SessionEvent is one observed lifecycle transition. Detail holds the
// failure reason, or the account id when To is AUTHENTICATED.
type SessionEvent struct {
	Tenant string    `json:"tenant"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Handler consumes session lifecycle events. Handlers are best effort:
// a failing handler is logged and never blocks the session runtime.
type Handler interface {
	Name() string
	CanHandle(evt *SessionEvent) bool
	Handle(ctx context.Context, evt *SessionEvent) error
}

// Dispatcher fans session transitions out to the registered handlers
// over the event bus, running each handler on the shared worker pool.
type Dispatcher struct {
	bus      EventBus.Bus
	pool     *ants.Pool
	handlers []Handler
}

func NewDispatcher(bus EventBus.Bus, pool *ants.Pool, handlers ...Handler) (*Dispatcher, error) {
	d := &Dispatcher{bus: bus, pool: pool, handlers: handlers}
	if err := bus.SubscribeAsync(TopicSessionTransition, d.dispatch, false); err != nil {
		return nil, err
	}
	return d, nil
}

// Publish adapts the session transition callback onto the bus. The
// signature matches session.TransitionFunc.
func (d *Dispatcher) Publish(tenant string, from, to session.State, detail string) {
	d.bus.Publish(TopicSessionTransition, &SessionEvent{
		Tenant: tenant,
		From:   from.String(),
		To:     to.String(),
		Detail: detail,
		At:     time.Now(),
	})
}

func (d *Dispatcher) dispatch(evt *SessionEvent) {
	for _, h := range d.handlers {
		if !h.CanHandle(evt) {
			continue
		}
		handler := h
		err := d.pool.Submit(func() {
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("session event handler panic",
						zap.String("namespace", "notify"),
						zap.String("handler", handler.Name()),
						zap.Any("error", r),
					)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			if err := handler.Handle(ctx, evt); err != nil {
				zap.L().Error("session event handler failed",
					zap.String("namespace", "notify"),
					zap.String("handler", handler.Name()),
					zap.String("tenant", evt.Tenant),
					zap.String("to", evt.To),
					zap.Error(err),
				)
			}
		})
		if err != nil {
			zap.L().Warn("session event handler not scheduled",
				zap.String("namespace", "notify"),
				zap.String("handler", handler.Name()),
				zap.Error(err),
			)
		}
	}
}

// Flush waits for queued bus deliveries, used on shutdown and in tests.
func (d *Dispatcher) Flush() {
	d.bus.WaitAsync()
}
