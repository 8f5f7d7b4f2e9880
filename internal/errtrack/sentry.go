// Package errtrack forwards unexpected failures to Sentry.
package errtrack

import (
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config controls the Sentry client.
type Config struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string
}

// Init configures the global Sentry client. An empty DSN disables capture and is not an error.
func Init(cfg Config, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(log.Writer(), "[errtrack] ", log.LstdFlags)
	}
	if cfg.DSN == "" {
		logger.Printf("sentry dsn not configured, error tracking disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		ServerName:  cfg.ServerName,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Request != nil && event.Request.Headers != nil {
				delete(event.Request.Headers, "Authorization")
				delete(event.Request.Headers, "Cookie")
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	logger.Printf("sentry initialised (environment=%s)", cfg.Environment)
	return nil
}

// Capture reports err with the given tags. It is a no-op when Init was skipped.
func Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be delivered.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
