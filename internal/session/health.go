package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// A session is given this many sweeps to come back before the
// reconnect strategy gives up and evicts it.
const maxReconnectAttempts = 3

// StartHealthMonitor launches the periodic transport sweep. It stops
// when ctx is canceled or the manager shuts down.
func (m *Manager) StartHealthMonitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.HealthInterval)
		defer ticker.Stop()
		zap.L().Info("session health monitor started",
			zap.Duration("interval", m.cfg.HealthInterval),
			zap.String("strategy", m.cfg.Strategy))
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.healthSweep(ctx)
			}
		}
	}()
}

// healthSweep repairs sessions whose transport dropped underneath an
// authenticated state, applying the configured strategy uniformly.
func (m *Manager) healthSweep(ctx context.Context) {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		select {
		case <-e.done:
			if e.sess != nil {
				live = append(live, e.sess)
			}
		default:
		}
	}
	m.mu.RUnlock()

	for _, s := range live {
		st := s.State()
		if st != StateAuthenticated && st != StateDisconnected {
			continue
		}
		if s.driver.Connected() {
			continue
		}

		if m.cfg.Strategy == StrategyEvict {
			s.apply(Event{Kind: EventDisconnected, Reason: "transport down"})
			m.evictOnTerminal(s, errors.Wrap(ErrNotReady, "transport down"))
			continue
		}

		attempt := s.bumpReconnect()
		if attempt > maxReconnectAttempts {
			zap.L().Warn("session exhausted reconnect attempts",
				zap.String("tenant", s.tenant), zap.Int("attempts", attempt-1))
			s.apply(Event{Kind: EventDisconnected, Reason: "reconnect attempts exhausted"})
			m.evictOnTerminal(s, errors.Wrap(ErrNotReady, "reconnect attempts exhausted"))
			continue
		}
		zap.L().Info("session reconnect attempt",
			zap.String("tenant", s.tenant), zap.Int("attempt", attempt))
		if err := s.driver.Connect(ctx, s.apply); err != nil {
			zap.L().Warn("session reconnect failed",
				zap.String("tenant", s.tenant), zap.Error(err))
		}
	}
}
