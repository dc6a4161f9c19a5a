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

// Package acquisition runs the periodic PLC acquisition cycle and the button
// reconciliation timer.
//
// Every tick reads one snapshot, resolves the setpoint, stamps it and either
// appends it to the sinks (when any measured value changed since the last
// persisted reading) or overwrites the most recent reading in place. A
// confirmed snapshot also records a controller setpoint. Every PruneEvery
// cycles the oldest PruneBatch readings are deleted.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/metrics"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/plc"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sentry"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

// Config tunes the acquisition loop.
type Config struct {
	TickInterval time.Duration
	// CycleTimeout bounds one tick. It defaults to TickInterval and may be
	// longer so slow PLC connects are not cut off; ticks are skipped meanwhile.
	CycleTimeout time.Duration
	// PruneEvery is the cycle cadence of pruning. 0 disables pruning.
	PruneEvery uint64
	PruneBatch int
	// PruneSetpoints also prunes the setpoint collection.
	PruneSetpoints   bool
	FallbackSetpoint float64
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		TickInterval:     constants.DefaultTickInterval,
		PruneEvery:       constants.PruneEvery,
		PruneBatch:       constants.PruneBatch,
		FallbackSetpoint: constants.FallbackSetpoint,
	}
}

// Event describes what one cycle persisted.
type Event struct {
	Cycle   uint64
	Changed bool
	// Reading is the stamped reading of this cycle, persisted or not.
	Reading models.Reading
	// Readings holds the stored reading per sink that accepted it.
	Readings map[string]models.Reading
	// Setpoints is set when the snapshot confirmed a setpoint.
	Setpoints map[string]models.SetpointRecord
	Pruned    bool
}

// Listener is called after every cycle that obtained a snapshot.
type Listener func(ctx context.Context, event Event)

// Loop is the acquisition cycle over one Source and the sinks of a Mirror.
type Loop struct {
	cfg       Config
	source    plc.Source
	mirror    *sink.Mirror
	logger    *zap.SugaredLogger
	listeners []Listener
	now       func() time.Time

	// mu guards last and cycles, which only the loop goroutine writes.
	mu     sync.RWMutex
	last   *models.Reading
	cycles uint64
}

// NewLoop creates a loop. A non-positive TickInterval falls back to the
// default; a non-positive CycleTimeout to the tick interval.
func NewLoop(cfg Config, source plc.Source, mirror *sink.Mirror) *Loop {
	log := logger.For(logger.ComponentAcquire)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = constants.DefaultTickInterval
	}

	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = cfg.TickInterval
	}

	metrics.InitErrorCounter(metrics.ComponentAcquisition, "main")

	return &Loop{
		cfg:    cfg,
		source: source,
		mirror: mirror,
		logger: log,
		now:    time.Now,
	}
}

// AddListener registers l. Not safe to call once Execute runs.
func (l *Loop) AddListener(listener Listener) {
	l.listeners = append(l.listeners, listener)
}

// SetClock replaces the wall clock used for timestamps.
func (l *Loop) SetClock(now func() time.Time) {
	l.now = now
}

// Last returns a copy of the last persisted reading, or nil before the first one.
func (l *Loop) Last() *models.Reading {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.last == nil {
		return nil
	}

	reading := *l.last

	return &reading
}

// Cycles returns how many ticks obtained a snapshot.
func (l *Loop) Cycles() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.cycles
}

// Execute ticks until ctx is cancelled. Errors of a single tick are reported
// and never stop the loop.
func (l *Loop) Execute(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	l.logger.Infof("Starting acquisition loop with a tick interval of %s", l.cfg.TickInterval)

	for {
		select {
		case <-ctx.Done():
			l.logger.Infof("Acquisition loop stopped")

			return nil
		case <-ticker.C:
			start := time.Now()

			timeoutCtx, cancel := context.WithTimeout(ctx, l.cfg.CycleTimeout)
			err := l.Tick(timeoutCtx)
			cancel()

			cycleTime := time.Since(start)
			if cycleTime > l.cfg.TickInterval {
				l.logger.Warnf("Acquisition cycle time is greater than tick interval: %v", cycleTime)

				if cycleTime > 2*l.cfg.TickInterval {
					l.logger.Errorf("Acquisition cycle time is greater than 2*tick interval: %v", cycleTime)
				}
			}

			metrics.ObserveCycleTime(metrics.ComponentAcquisition, cycleTime)

			if err == nil {
				continue
			}

			switch {
			case errors.Is(err, context.Canceled) && ctx.Err() != nil:
				l.logger.Infof("Acquisition loop cancelled")

				return nil
			case errors.Is(err, context.DeadlineExceeded):
				sentry.ReportIssuef(sentry.IssueTypeWarning, l.logger, "Acquisition cycle timed out: %v", err)
			default:
				metrics.IncErrorCount(metrics.ComponentAcquisition, "main")
				l.logger.Warnf("Acquisition cycle skipped: %v", err)
			}
		}
	}
}

// Tick runs one acquisition cycle. It only returns an error when no snapshot
// could be obtained; sink failures are logged per sink and swallowed.
func (l *Loop) Tick(ctx context.Context) error {
	snap, err := l.source.Read(ctx)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentSource, "read")

		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := snap.Validate(); err != nil {
		metrics.IncErrorCount(metrics.ComponentSource, "read")

		return err
	}

	l.mu.Lock()
	l.cycles++
	cycle := l.cycles
	previous := l.last
	l.mu.Unlock()

	setpoint := l.cfg.FallbackSetpoint
	if snap.SetpointCM == nil {
		setpoint = l.resolveSetpoint(ctx)
	}

	reading := snap.Reading(setpoint)
	reading.Timestamp = models.DisplayTime(l.now())

	event := Event{
		Cycle:   cycle,
		Changed: previous == nil || !previous.SameMeasurement(reading),
		Reading: reading,
	}

	event.Readings = l.persist(ctx, reading, event.Changed)
	metrics.SetLevel(reading.LevelCM)

	if reading.Confirmed == 1 {
		event.Setpoints = l.recordConfirmedSetpoint(ctx, reading)
	}

	if l.cfg.PruneEvery > 0 && cycle%l.cfg.PruneEvery == 0 {
		l.prune(ctx)
		event.Pruned = true
	}

	for _, listener := range l.listeners {
		listener(ctx, event)
	}

	return nil
}

func (l *Loop) resolveSetpoint(ctx context.Context) float64 {
	if record := l.mirror.LatestSetpoint(ctx); record != nil {
		return record.SetpointCM
	}

	return l.cfg.FallbackSetpoint
}

func (l *Loop) persist(ctx context.Context, reading models.Reading, changed bool) map[string]models.Reading {
	saved := make(map[string]models.Reading, 2)

	var succeeded int

	if changed {
		succeeded, _ = l.mirror.Each(ctx, "insert reading", func(ctx context.Context, s *sink.Sink) error {
			out, err := s.InsertReading(ctx, reading)
			if err != nil {
				return err
			}

			saved[s.Name()] = out
			metrics.IncReadingPersisted(s.Name(), metrics.OutcomeInserted)

			return nil
		})
	} else {
		succeeded, _ = l.mirror.Each(ctx, "overwrite reading", func(ctx context.Context, s *sink.Sink) error {
			out, inserted, err := s.OverwriteLatestReading(ctx, reading)
			if err != nil {
				return err
			}

			saved[s.Name()] = out

			outcome := metrics.OutcomeOverwritten
			if inserted {
				outcome = metrics.OutcomeInserted
			}

			metrics.IncReadingPersisted(s.Name(), outcome)

			return nil
		})
	}

	if succeeded > 0 {
		l.mu.Lock()
		l.last = &reading
		l.mu.Unlock()

		l.logger.Debugf("Reading persisted (changed=%t) on %d sink(s): %+v", changed, succeeded, reading)
	}

	return saved
}

func (l *Loop) recordConfirmedSetpoint(ctx context.Context, reading models.Reading) map[string]models.SetpointRecord {
	record := models.SetpointRecord{
		Timestamp:  reading.Timestamp,
		SetpointCM: reading.SetpointCM,
		Origin:     constants.OriginController,
	}

	saved, _ := l.mirror.InsertSetpoint(ctx, record)
	if len(saved) > 0 {
		metrics.IncSetpointRecorded(constants.OriginController)
		l.logger.Infof("Controller confirmed setpoint %g cm", reading.SetpointCM)
	}

	return saved
}

func (l *Loop) prune(ctx context.Context) {
	collections := []string{constants.CollectionReadings}
	if l.cfg.PruneSetpoints {
		collections = append(collections, constants.CollectionSetpoints)
	}

	for _, collection := range collections {
		_, _ = l.mirror.Each(ctx, "prune "+collection, func(ctx context.Context, s *sink.Sink) error {
			deleted, err := s.PruneOldest(ctx, collection, l.cfg.PruneBatch)
			metrics.AddPruned(s.Name(), collection, deleted)

			if deleted > 0 {
				l.logger.Infof("Pruned %d %s from %s sink", deleted, collection, s.Name())
			}

			return err
		})
	}
}
