package btc

import (
	"github.com/vianetwork/btcwatch/src/utils/logger"

	"github.com/sirupsen/logrus"
)

// Lowers resty's logs to debug, errors are reported by the caller
type restyLogger struct {
	log *logrus.Entry
}

func newRestyLogger() *restyLogger {
	return &restyLogger{log: logger.NewSublogger("btc-resty")}
}

func (self *restyLogger) Errorf(format string, v ...interface{}) {
	self.log.Debugf(format, v...)
}

func (self *restyLogger) Warnf(format string, v ...interface{}) {
	self.log.Debugf(format, v...)
}

func (self *restyLogger) Debugf(format string, v ...interface{}) {
	self.log.Tracef(format, v...)
}
