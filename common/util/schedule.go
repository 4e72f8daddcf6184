package util

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Schedule runs the specified `action` periodically until ctx is done.
func Schedule(ctx context.Context, action func() error, interval time.Duration, errorMessage string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := action(); err != nil {
				logrus.WithError(err).Warn(errorMessage)
			}
		}
	}
}

// ScheduleNow runs the specified `action` immediately and periodically.
func ScheduleNow(ctx context.Context, action func() error, interval time.Duration, errorMessage string) {
	if err := action(); err != nil {
		logrus.WithError(err).Error(errorMessage)
	}

	Schedule(ctx, action, interval, errorMessage)
}
