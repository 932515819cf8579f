package common

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// RFC3339Milli is a RFC3339 timestamp format restricted to millisecond precision.
// No standard format is provided, so we create our own.
const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// LogSetup returns a logger writing to stdout in text or JSON format
func LogSetup(json bool, logLevel string) (*logrus.Entry, error) {
	return LogSetupWithOutput(os.Stdout, json, logLevel)
}

func LogSetupWithOutput(out io.Writer, json bool, logLevel string) (*logrus.Entry, error) {
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(out)

	if json {
		log.Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: RFC3339Milli,
		})
	} else {
		log.Logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: RFC3339Milli,
			FullTimestamp:   true,
		})
	}

	if logLevel != "" {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		log.Logger.SetLevel(lvl)
	}
	return log, nil
}
