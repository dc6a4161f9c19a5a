// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentry

import (
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"go.uber.org/zap"
)

var (
	enabledMu            sync.RWMutex
	enabled              bool
	shouldDebounceErrors = true
)

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	shouldDebounceErrors = false
}

// InitSentry initializes sentry if a DSN is configured. Without a DSN issues
// are only logged.
func InitSentry(dsn string, appVersion string, debounceErrors bool) {
	shouldDebounceErrors = debounceErrors

	if dsn == "" {
		zap.S().Debug("Sentry disabled, no DSN configured")

		return
	}

	environment := constants.DefaultProductionEnvironment
	if appVersion == "" || appVersion == constants.DefaultAppVersion || strings.Contains(appVersion, "-") {
		environment = constants.DefaultDevelopmentEnvironment
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   environment,
		Release:       "tank-scada@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}

	enabledMu.Lock()
	enabled = true
	enabledMu.Unlock()
}

// Flush waits for buffered events to be sent.
func Flush(timeout time.Duration) {
	if isEnabled() {
		sentry.Flush(timeout)
	}
}

func isEnabled() bool {
	enabledMu.RLock()
	defer enabledMu.RUnlock()

	return enabled
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// Extract the first sentence or phrase (until period, comma or a colon)
	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{
		"{{ default }}",
		"level: " + string(level),
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	if !isEnabled() {
		return
	}

	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}
