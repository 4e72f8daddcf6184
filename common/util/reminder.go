package util

import (
	"time"

	"github.com/0glabs/0g-dirview/common"
	"github.com/sirupsen/logrus"
)

// Reminder is used for time consuming operations to remind user about progress.
type Reminder struct {
	start    time.Time      // start time since last remind at info level
	interval time.Duration  // interval to remind once at info level
	logger   *logrus.Logger // logs at debug level in general
}

// NewReminder returns a new Reminder instance.
//
// `interval`: interval to remind in info level, progress in between is logged
// at debug level.
func NewReminder(logger *logrus.Logger, interval time.Duration) *Reminder {
	if logger == nil {
		logger = common.NewLogger()
	}

	return &Reminder{
		start:    time.Now(),
		interval: interval,
		logger:   logger,
	}
}

// RemindWith reminds about specified `message` along with `key` and `value`.
func (reminder *Reminder) RemindWith(message string, key string, value interface{}) {
	reminder.Remind(message, logrus.Fields{key: value})
}

// Remind reminds about specified `message` and optional `fields`.
func (reminder *Reminder) Remind(message string, fields ...logrus.Fields) {
	if reminder.interval > 0 && time.Since(reminder.start) > reminder.interval {
		reminder.remind(logrus.InfoLevel, message, fields...)
		reminder.start = time.Now()
	} else {
		reminder.remind(logrus.DebugLevel, message, fields...)
	}
}

func (reminder *Reminder) remind(level logrus.Level, message string, fields ...logrus.Fields) {
	if len(fields) > 0 {
		reminder.logger.WithFields(fields[0]).Log(level, message)
	} else {
		reminder.logger.Log(level, message)
	}
}
