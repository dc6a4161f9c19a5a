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

package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/metrics"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
)

// WriteError is the failure of one operation on one sink.
type WriteError struct {
	Sink string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s on %s sink: %v", e.Op, e.Sink, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Mirror is a primary sink plus an optional secondary one. Writes go to every
// sink, each with its own timeout. A failing sink is logged and counted and
// does not stop the others. There is no rollback.
type Mirror struct {
	primary   *Sink
	secondary *Sink
	timeout   time.Duration
	log       *zap.SugaredLogger
}

// NewMirror builds a mirror. secondary may be nil.
func NewMirror(primary *Sink, secondary *Sink) *Mirror {
	return &Mirror{
		primary:   primary,
		secondary: secondary,
		timeout:   constants.StoreTimeout,
		log:       logger.For(logger.ComponentSink),
	}
}

// WithTimeout overrides the per-sink call timeout.
func (m *Mirror) WithTimeout(timeout time.Duration) *Mirror {
	m.timeout = timeout

	return m
}

func (m *Mirror) Primary() *Sink {
	return m.primary
}

// Secondary is nil in single-sink mode.
func (m *Mirror) Secondary() *Sink {
	return m.secondary
}

func (m *Mirror) Dual() bool {
	return m.secondary != nil
}

// Sinks returns the primary first.
func (m *Mirror) Sinks() []*Sink {
	if m.secondary == nil {
		return []*Sink{m.primary}
	}

	return []*Sink{m.primary, m.secondary}
}

// Each runs fn on every sink in order. It returns how many sinks succeeded and
// the joined *WriteError of the others.
func (m *Mirror) Each(ctx context.Context, op string, fn func(ctx context.Context, s *Sink) error) (int, error) {
	var (
		succeeded int
		errs      []error
	)

	for _, s := range m.Sinks() {
		if err := m.call(ctx, s, fn); err != nil {
			m.log.Warnf("%s failed on %s sink: %v", op, s.Name(), err)
			metrics.IncErrorCount(metrics.ComponentSink, s.Name())
			errs = append(errs, &WriteError{Sink: s.Name(), Op: op, Err: err})

			continue
		}

		succeeded++
	}

	return succeeded, errors.Join(errs...)
}

func (m *Mirror) call(ctx context.Context, s *Sink, fn func(ctx context.Context, s *Sink) error) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	return fn(ctx, s)
}

// EnsureCollections creates the collections on every sink.
func (m *Mirror) EnsureCollections(ctx context.Context) error {
	_, err := m.Each(ctx, "create collections", func(ctx context.Context, s *Sink) error {
		return s.EnsureCollections(ctx)
	})

	return err
}

// InsertSetpoint appends record to every sink and returns the stored copies by sink name.
func (m *Mirror) InsertSetpoint(ctx context.Context, record models.SetpointRecord) (map[string]models.SetpointRecord, error) {
	saved := make(map[string]models.SetpointRecord, 2)

	_, err := m.Each(ctx, "insert setpoint", func(ctx context.Context, s *Sink) error {
		out, err := s.InsertSetpoint(ctx, record)
		if err != nil {
			return err
		}

		saved[s.Name()] = out

		return nil
	})

	return saved, err
}

// InsertButtons appends state to every sink and returns the stored copies by sink name.
func (m *Mirror) InsertButtons(ctx context.Context, state models.ButtonState) (map[string]models.ButtonState, error) {
	saved := make(map[string]models.ButtonState, 2)

	_, err := m.Each(ctx, "insert button state", func(ctx context.Context, s *Sink) error {
		out, err := s.InsertButtons(ctx, state)
		if err != nil {
			return err
		}

		saved[s.Name()] = out

		return nil
	})

	return saved, err
}

// LatestSetpoint asks the sinks in order and returns the first setpoint found.
// Sink errors are logged and the next sink is tried.
func (m *Mirror) LatestSetpoint(ctx context.Context) *models.SetpointRecord {
	for _, s := range m.Sinks() {
		var record *models.SetpointRecord

		err := m.call(ctx, s, func(ctx context.Context, s *Sink) error {
			var err error
			record, err = s.LatestSetpoint(ctx)

			return err
		})
		if err != nil {
			m.log.Warnf("Failed to get latest setpoint from %s sink: %v", s.Name(), err)
			metrics.IncErrorCount(metrics.ComponentSink, s.Name())

			continue
		}

		if record != nil {
			return record
		}
	}

	return nil
}

// Ping checks every sink.
func (m *Mirror) Ping(ctx context.Context) error {
	var errs []error

	for _, s := range m.Sinks() {
		if err := m.call(ctx, s, func(ctx context.Context, s *Sink) error { return s.Ping(ctx) }); err != nil {
			errs = append(errs, &WriteError{Sink: s.Name(), Op: "ping", Err: err})
		}
	}

	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Mirror) Close(ctx context.Context) error {
	var errs []error

	for _, s := range m.Sinks() {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, &WriteError{Sink: s.Name(), Op: "close", Err: err})
		}
	}

	return errors.Join(errs...)
}

// FailedSink reports whether err carries a failure of the named sink.
func FailedSink(err error, name string) bool {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if FailedSink(e, name) {
				return true
			}
		}

		return false
	}

	var writeErr *WriteError

	return errors.As(err, &writeErr) && writeErr.Sink == name
}
