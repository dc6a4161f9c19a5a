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

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/metrics"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/plc"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sentry"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

// ButtonReconciler pushes the latest stored button state to the PLC whenever
// it differs from what was pushed last. It runs on its own timer next to the
// acquisition loop.
type ButtonReconciler struct {
	interval time.Duration
	timeout  time.Duration
	source   plc.Source
	sink     *sink.Sink
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	pushed models.ButtonState
}

// NewButtonReconciler reads from the primary sink of mirror. An interval of 0
// disables the timer; Remember still works.
func NewButtonReconciler(interval time.Duration, source plc.Source, mirror *sink.Mirror) *ButtonReconciler {
	log := logger.For(logger.ComponentButtons)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	metrics.InitErrorCounter(metrics.ComponentButtons, "main")

	return &ButtonReconciler{
		interval: interval,
		timeout:  interval,
		source:   source,
		sink:     mirror.Primary(),
		logger:   log,
	}
}

// WithTimeout bounds one reconciliation. Values below the interval are ignored.
func (r *ButtonReconciler) WithTimeout(timeout time.Duration) *ButtonReconciler {
	if timeout > r.interval {
		r.timeout = timeout
	}

	return r
}

// Remember records state as pushed. The button command handler calls it after
// writing to the PLC itself.
func (r *ButtonReconciler) Remember(state models.ButtonState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushed = state
}

// Pushed returns the last state written to the PLC. It starts with all flags at 0.
func (r *ButtonReconciler) Pushed() models.ButtonState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pushed
}

func (r *ButtonReconciler) Execute(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.Infof("Button reconciliation disabled")

		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()

			timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
			err := r.Reconcile(timeoutCtx)
			cancel()

			metrics.ObserveCycleTime(metrics.ComponentButtons, time.Since(start))

			if err == nil {
				continue
			}

			switch {
			case errors.Is(err, context.Canceled) && ctx.Err() != nil:
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				sentry.ReportIssuef(sentry.IssueTypeWarning, r.logger, "Button reconciliation timed out: %v", err)
			default:
				metrics.IncErrorCount(metrics.ComponentButtons, "main")
				r.logger.Warnf("Button reconciliation failed: %v", err)
			}
		}
	}
}

// Reconcile runs one reconciliation step.
func (r *ButtonReconciler) Reconcile(ctx context.Context) error {
	latest, err := r.sink.LatestButtons(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest button state: %w", err)
	}

	if latest == nil || latest.SameFlags(r.Pushed()) {
		return nil
	}

	r.logger.Infof("Button state changed, writing to plc: start=%d stop=%d estop=%d", latest.Start, latest.Stop, latest.EStop)

	_, err = r.source.WriteButtons(ctx, latest.Command())
	metrics.ObservePLCWrite("buttons", err)

	if err != nil {
		return fmt.Errorf("failed to write button state: %w", err)
	}

	r.Remember(*latest)

	return nil
}
