package app

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/internal/domain"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 60s", func() {
		a.SchedSweepListingCache()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		a.SchedClearExpireData()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedSweepListingCache drops expired group listings so the next read
// refetches from the live session.
func (a *Application) SchedSweepListingCache() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	if a.manager == nil {
		return
	}
	if dropped := a.manager.SweepCache(); dropped > 0 {
		zap.L().Debug("listing cache swept", zap.Int("dropped", dropped))
	}
}

// SchedClearExpireData trims the audit tables.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	// Session lifecycle events
	idays := a.ConfigMgr().GetInt("notify", "event_retention_days")
	if idays == 0 {
		idays = 90
	}
	a.gormDB.
		Where("event_time < ? ", time.Now().
			Add(-time.Hour*24*time.Duration(idays))).Delete(domain.WaEventLog{})

	// Operator actions
	a.gormDB.
		Where("opt_time < ? ", time.Now().
			Add(-time.Hour*24*365)).Delete(domain.SysOprLog{})

	// Delivered outbox rows have no value after a week
	a.gormDB.
		Where("status = ? and sent_at < ?", domain.OutboxStatusSent,
			time.Now().Add(-time.Hour*24*7)).Delete(domain.WaOutboxMessage{})
}
