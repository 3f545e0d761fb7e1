package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/pkg/common"
)

// DefaultVerdictTTL bounds how long an entitlement verdict is reused
// before the tenant row is consulted again.
const DefaultVerdictTTL = 30 * time.Second

type verdict struct {
	err error
	at  time.Time
}

// Checker answers whether a tenant may hold a messaging session.
// Implements session.Entitler on top of the tenant directory, with a
// short verdict cache so the hot send path does not hit the database
// on every call.
type Checker struct {
	db  *gorm.DB
	ttl time.Duration

	mu       sync.Mutex
	verdicts map[string]verdict
	now      func() time.Time
}

var _ session.Entitler = (*Checker)(nil)

func NewChecker(db *gorm.DB, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = DefaultVerdictTTL
	}
	return &Checker{
		db:       db,
		ttl:      ttl,
		verdicts: make(map[string]verdict),
		now:      time.Now,
	}
}

func (c *Checker) Entitled(ctx context.Context, tenant string) error {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return errors.Wrap(session.ErrNotEntitled, "empty tenant code")
	}

	c.mu.Lock()
	if v, ok := c.verdicts[tenant]; ok && c.now().Sub(v.at) < c.ttl {
		c.mu.Unlock()
		return v.err
	}
	c.mu.Unlock()

	err := c.check(ctx, tenant)
	// Transient lookup faults are not verdicts, retry them immediately.
	if err == nil || errors.Is(err, session.ErrNotEntitled) {
		c.mu.Lock()
		c.verdicts[tenant] = verdict{err: err, at: c.now()}
		c.mu.Unlock()
	}
	return err
}

func (c *Checker) check(ctx context.Context, tenant string) error {
	var t domain.Tenant
	qerr := c.db.WithContext(ctx).Where("code = ?", tenant).First(&t).Error
	switch {
	case errors.Is(qerr, gorm.ErrRecordNotFound):
		return errors.Wrapf(session.ErrNotEntitled, "unknown tenant %s", tenant)
	case qerr != nil:
		// Do not lock tenants out on a transient database fault.
		return errors.Wrap(qerr, "tenant lookup")
	}
	if t.Status != common.ENABLED {
		return errors.Wrapf(session.ErrNotEntitled, "tenant %s is %s", tenant, t.Status)
	}
	if !t.PlanExpireAt.IsZero() && t.PlanExpireAt.Before(c.now()) {
		return errors.Wrapf(session.ErrNotEntitled,
			"tenant %s plan expired at %s", tenant, t.PlanExpireAt.Format(time.RFC3339))
	}
	return nil
}

// Forget drops the cached verdict so the next check rereads the row.
// Called after a tenant record is changed through the admin API.
func (c *Checker) Forget(tenant string) {
	c.mu.Lock()
	delete(c.verdicts, tenant)
	c.mu.Unlock()
}
