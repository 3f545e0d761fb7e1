package wadriver

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapWaLogger routes whatsmeow's internal logging into the global zap
// logger so gateway and protocol logs land in one stream.
type zapWaLogger struct {
	s *zap.SugaredLogger
}

func newWaLogger(tenant string) waLog.Logger {
	return &zapWaLogger{s: zap.S().With("tenant", tenant, "module", "whatsmeow")}
}

func (l *zapWaLogger) Debugf(msg string, args ...interface{}) { l.s.Debugf(msg, args...) }
func (l *zapWaLogger) Infof(msg string, args ...interface{})  { l.s.Infof(msg, args...) }
func (l *zapWaLogger) Warnf(msg string, args ...interface{})  { l.s.Warnf(msg, args...) }
func (l *zapWaLogger) Errorf(msg string, args ...interface{}) { l.s.Errorf(msg, args...) }

func (l *zapWaLogger) Sub(module string) waLog.Logger {
	return &zapWaLogger{s: l.s.With("submodule", module)}
}
