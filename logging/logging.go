package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

// Init configures the shared logger. In production (ENVIRONMENT=production) it
// writes JSON for log aggregation, otherwise human-readable text.
func Init(level, environment string) {
	if strings.EqualFold(environment, "production") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
	base.SetOutput(os.Stdout)
}

// SetOutput redirects the shared logger, mostly for tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// Logger returns the shared logger.
func Logger() *logrus.Logger {
	return base
}

// For returns a logger scoped to a component.
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// WithNegotiation returns a logger carrying negotiation context fields.
func WithNegotiation(entry *logrus.Entry, negotiationID, sceneID string) *logrus.Entry {
	return entry.WithFields(logrus.Fields{
		"negotiation_id": negotiationID,
		"scene_id":       sceneID,
	})
}
