package main

import (
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/dotside-studios/davi-nfc-tagd/buildinfo"
)

var sentryEnabled bool

// initSentry enables crash reporting when dsn is set.
func initSentry(dsn string) {
	if dsn == "" {
		return
	}
	environment := "production"
	if buildinfo.IsDev() {
		environment = "development"
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          buildinfo.Release(),
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		log.Printf("Warning: Failed to initialize Sentry: %v", err)
		return
	}
	sentryEnabled = true
}

// capturePanic reports a recovered handler panic.
func capturePanic(v any) {
	if !sentryEnabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", "dispatcher")
		scope.SetLevel(sentry.LevelFatal)
		switch v := v.(type) {
		case error:
			sentry.CaptureException(v)
		case string:
			sentry.CaptureMessage(v)
		default:
			sentry.CaptureMessage(fmt.Sprintf("%v", v))
		}
	})
	sentry.Flush(2 * time.Second)
}

func flushSentry() {
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}
