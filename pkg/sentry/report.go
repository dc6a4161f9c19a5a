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
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// debounceWindow limits how often the same level is forwarded to Sentry.
// Logging is never debounced.
const debounceWindow = 2 * time.Hour

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log)
	case IssueTypeError:
		log.Error(err)
		forward(sentry.LevelError, err, &errorLastSent, &errorLastSentMutex)
	case IssueTypeWarning:
		log.Warn(err)
		forward(sentry.LevelWarning, err, &warningLastSent, &warningLastSentMutex)
	}
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// reportFatal sends a fatal error to Sentry, logs it with a stack trace and panics.
func reportFatal(err error, log *zap.SugaredLogger) {
	log.Error("The SCADA service has encountered a fatal error and will now terminate.")
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	sendSentryEvent(createSentryEvent(sentry.LevelFatal, err))
	Flush(5 * time.Second)

	log.Panic("Fatal error")
}

var (
	errorLastSent        = time.Now().Add(-time.Hour * 24)
	errorLastSentMutex   sync.Mutex
	warningLastSent      = time.Now().Add(-time.Hour * 24)
	warningLastSentMutex sync.Mutex
)

func forward(level sentry.Level, err error, lastSent *time.Time, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()

	if shouldDebounceErrors && time.Since(*lastSent) < debounceWindow {
		return
	}

	sendSentryEvent(createSentryEvent(level, err))
	*lastSent = time.Now()
}
