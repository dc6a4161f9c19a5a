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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sentry"
)

const (
	// Component labels.
	ComponentAcquisition = "acquisition"
	ComponentButtons     = "button_reconciler"
	ComponentSource      = "reading_source"
	ComponentAPI         = "api"
	ComponentPublisher   = "publisher"
	ComponentSink        = "sink"
	ComponentCache       = "cache"
)

// Persistence outcomes.
const (
	OutcomeInserted    = "inserted"
	OutcomeOverwritten = "overwritten"
)

var (
	namespace = "tank"
	subsystem = "scada"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	cycleTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycle_duration_milliseconds",
			Help:      "Time taken by one timer cycle (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.95: 0.01,
				0.99: 0.01,
			},
		},
		[]string{"component"},
	)

	readingsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "readings_persisted_total",
			Help:      "Readings written per sink, split into inserted and overwritten",
		},
		[]string{"sink", "outcome"},
	)

	documentsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "documents_pruned_total",
			Help:      "Documents deleted by retention pruning",
		},
		[]string{"sink", "collection"},
	)

	setpointsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "setpoints_recorded_total",
			Help:      "Setpoint records appended, by origin",
		},
		[]string{"origin"},
	)

	plcWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "plc_writes_total",
			Help:      "Writes issued to the reading source",
		},
		[]string{"kind", "result"},
	)

	lastLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tank_level_cm",
			Help:      "Most recently acquired tank level",
		},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics.
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveCycleTime records the time taken by one timer cycle.
func ObserveCycleTime(component string, duration time.Duration) {
	cycleTime.WithLabelValues(component).Observe(float64(duration.Milliseconds()))
}

func IncReadingPersisted(sink, outcome string) {
	readingsPersisted.WithLabelValues(sink, outcome).Inc()
}

func AddPruned(sink, collection string, n int) {
	documentsPruned.WithLabelValues(sink, collection).Add(float64(n))
}

func IncSetpointRecorded(origin string) {
	setpointsRecorded.WithLabelValues(origin).Inc()
}

// ObservePLCWrite counts a write through the reading source.
func ObservePLCWrite(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}

	plcWrites.WithLabelValues(kind, result).Inc()
}

func SetLevel(cm float64) {
	lastLevel.Set(cm)
}
