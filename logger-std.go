//go:build !tinygo

package rf24network

import (
	"github.com/charmbracelet/log"
)

func init() {
	globalLogger = &stdLogger{}
}

// stdLogger is the default host-side logger, backed by charmbracelet/log.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string) {
	log.Debug(msg)
}

func (l *stdLogger) Info(msg string) {
	log.Info(msg)
}

func (l *stdLogger) Warn(msg string) {
	log.Warn(msg)
}

func (l *stdLogger) Error(msg string) {
	log.Error(msg)
}
