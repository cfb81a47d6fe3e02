package logging

import (
	"log"
	"os"
)

// Logger is the minimal logging surface the scheduler core consumes. Logging
// is best-effort: implementations must not block or panic.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Std returns a Logger backed by the standard library log package.
func Std() Logger {
	return &stdLogger{l: log.New(os.Stderr, "", log.LstdFlags)}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type stdLogger struct {
	l *log.Logger
}

func (s *stdLogger) Infof(format string, args ...interface{}) {
	s.l.Printf("INFO "+format, args...)
}

func (s *stdLogger) Errorf(format string, args ...interface{}) {
	s.l.Printf("ERROR "+format, args...)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
