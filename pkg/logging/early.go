package logging

import (
	"fmt"
	"os"
)

// EarlyLog covers the window before the zap logger is configured
// (config loading, logger construction itself).
type EarlyLog struct{}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{}
}

func (l *EarlyLog) emit(out *os.File, level, msg string, args []interface{}) {
	fmt.Fprintf(out, level+": "+msg+"\n", args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.emit(os.Stdout, "INFO", msg, args)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.emit(os.Stderr, "WARN", msg, args)
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.emit(os.Stderr, "ERROR", msg, args)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.emit(os.Stderr, "FATAL", msg, args)
	os.Exit(1)
}
