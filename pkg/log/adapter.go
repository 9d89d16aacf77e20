// Package log adapts third-party logging interfaces onto the application's
// logrus entries.
package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerAdapter satisfies badger.Logger, routing BadgerDB's internal logging
// through a contextual logrus entry.
type BadgerAdapter struct {
	entry *logrus.Entry
}

// NewBadgerAdapter creates a BadgerAdapter
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry: entry.WithField("component", "badger")}
}

func (a *BadgerAdapter) Errorf(format string, args ...interface{}) {
	a.entry.Errorf(strings.TrimSpace(format), args...)
}

func (a *BadgerAdapter) Warningf(format string, args ...interface{}) {
	a.entry.Warnf(strings.TrimSpace(format), args...)
}

func (a *BadgerAdapter) Infof(format string, args ...interface{}) {
	// Badger's INFO chatter (compactions, value log GC) is debug detail here.
	a.entry.Debugf(strings.TrimSpace(format), args...)
}

func (a *BadgerAdapter) Debugf(format string, args ...interface{}) {
	a.entry.Debugf(strings.TrimSpace(format), args...)
}
