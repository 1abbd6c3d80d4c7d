package logger

import "github.com/sirupsen/logrus"

// discard drops every entry. Constructors across the module accept a nil
// Logger and fall back to it.
type discard struct{}

var nullLogger Logger = discard{}

// OrNull returns log, or a Logger that drops everything (Fatal included)
// when log is nil.
func OrNull(log Logger) Logger {
	if log == nil {
		return nullLogger
	}
	return log
}

func (discard) WithFields(map[string]interface{}) Logger { return nullLogger }
func (discard) WithField(string, interface{}) Logger     { return nullLogger }
func (discard) WithError(error) Logger                   { return nullLogger }

func (discard) Debug(...interface{})             {}
func (discard) Info(...interface{})              {}
func (discard) Warn(...interface{})              {}
func (discard) Error(...interface{})             {}
func (discard) Fatal(...interface{})             {}
func (discard) Log(logrus.Level, ...interface{}) {}

func (discard) Debugf(string, ...interface{}) {}
func (discard) Infof(string, ...interface{})  {}
func (discard) Warnf(string, ...interface{})  {}
func (discard) Errorf(string, ...interface{}) {}
