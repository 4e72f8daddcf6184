package common

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogOption configures loggers handed to library components.
type LogOption struct {
	LogLevel logrus.Level
	Logger   *logrus.Logger
	Output   io.Writer // defaults to stderr
}

// NewLogger returns the logger a component should use. Without options logs
// are discarded, so that embedding the index in another program is silent
// unless the host opts in.
func NewLogger(opt ...LogOption) *logrus.Logger {
	logger := logrus.New()
	if len(opt) == 0 {
		logger.Out = io.Discard
		return logger
	}
	if opt[0].Logger != nil {
		return opt[0].Logger
	}
	if opt[0].Output != nil {
		logger.Out = opt[0].Output
	}
	logger.SetLevel(opt[0].LogLevel)
	return logger
}
