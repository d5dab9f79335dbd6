// Package log is a thin wrapper around logrus that gives every package in
// this module the same structured-logging idiom the teacher's server/fsm.go
// uses directly: log.WithFields(log.Fields{...}).Info(...). Centralizing it
// here means the output format and the level (set by the cmd package's
// --log-level flag through SetLevel) are configured in one place.
package log

import (
	log "github.com/sirupsen/logrus"
)

// Fields is an alias so callers don't need to import logrus themselves.
type Fields = log.Fields

// SetLevel parses level (e.g. "debug", "info", "warn") and applies it to
// the shared logger, ignoring an unparseable value rather than failing
// startup over a bad flag.
func SetLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("log: unrecognized level, leaving default")
		return
	}
	log.SetLevel(lvl)
}

// WithFields returns a logrus.Entry pre-populated with fields, exactly the
// object the teacher's changeState passed to .Info/.Warningf.
func WithFields(fields Fields) *log.Entry {
	return log.WithFields(fields)
}

// WithField is the single-field shorthand of WithFields.
func WithField(key string, value interface{}) *log.Entry {
	return log.WithField(key, value)
}

// WithError attaches err under logrus's conventional "error" field.
func WithError(err error) *log.Entry {
	return log.WithError(err)
}

func Info(args ...interface{})  { log.Info(args...) }
func Warn(args ...interface{})  { log.Warn(args...) }
func Error(args ...interface{}) { log.Error(args...) }
func Debug(args ...interface{}) { log.Debug(args...) }
