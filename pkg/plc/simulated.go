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

package plc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
)

// demoSequence is the fixed cycle of readings the simulated controller replays.
var demoSequence = []Snapshot{
	{SetpointCM: Float(20), LevelCM: Float(18.5), PumpRPM: Float(1200), Start: 1},
	{SetpointCM: Float(30), LevelCM: Float(25.8), PumpRPM: Float(1500), Start: 1, Confirmed: 1},
	{SetpointCM: Float(40), LevelCM: Float(35.2), PumpRPM: Float(1800), Stop: 1},
	{SetpointCM: Float(50), LevelCM: Float(48.7), PumpRPM: Float(2100), Stop: 1},
	{SetpointCM: Float(60), LevelCM: Float(55.3), PumpRPM: Float(2400), EStop: 1},
	{SetpointCM: Float(70), LevelCM: Float(68.9), PumpRPM: Float(2700), EStop: 1},
	{SetpointCM: Float(80), LevelCM: Float(75.4), PumpRPM: Float(2800), Start: 1, Confirmed: 1},
	{SetpointCM: Float(90), LevelCM: Float(85.6), PumpRPM: Float(2900), Start: 1},
	{SetpointCM: Float(95), LevelCM: Float(92.1), PumpRPM: Float(3000), Stop: 1},
	{SetpointCM: Float(100), LevelCM: Float(98.7), PumpRPM: Float(2500), Confirmed: 1},
}

// writeRecorder keeps the last values written to a simulated controller.
type writeRecorder struct {
	mu         sync.Mutex
	setpoint   *float64
	buttons    *models.ButtonCommand
	buttonsLog int
}

func (w *writeRecorder) WriteSetpoint(ctx context.Context, setpointCM float64) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}

	w.mu.Lock()
	w.setpoint = Float(setpointCM)
	w.mu.Unlock()

	return WriteResult{
		Success: true,
		Message: fmt.Sprintf("setpoint %g written to plc", setpointCM),
		Written: Float(setpointCM),
	}, nil
}

func (w *writeRecorder) WriteButtons(ctx context.Context, cmd models.ButtonCommand) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}

	w.mu.Lock()
	w.buttons = &cmd
	w.buttonsLog++
	w.mu.Unlock()

	return WriteResult{
		Success: true,
		Message: "button states written to plc",
		States:  &cmd,
	}, nil
}

// LastSetpoint returns the last written setpoint, if any.
func (w *writeRecorder) LastSetpoint() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.setpoint == nil {
		return 0, false
	}

	return *w.setpoint, true
}

// LastButtons returns the last written button command and how many button writes happened.
func (w *writeRecorder) LastButtons() (models.ButtonCommand, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buttons == nil {
		return models.ButtonCommand{}, w.buttonsLog
	}

	return *w.buttons, w.buttonsLog
}

// SequenceSource replays the demo sequence in a loop.
type SequenceSource struct {
	writeRecorder

	readMu sync.Mutex
	next   int
	seq    []Snapshot
}

// NewSequenceSource returns a source replaying the built-in demo sequence.
func NewSequenceSource() *SequenceSource {
	return NewSequenceSourceFrom(demoSequence)
}

// NewSequenceSourceFrom replays the given snapshots in a loop.
func NewSequenceSourceFrom(seq []Snapshot) *SequenceSource {
	return &SequenceSource{seq: seq}
}

func (s *SequenceSource) Read(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.seq) == 0 {
		return Snapshot{}, fmt.Errorf("%w: empty sequence", ErrMalformedReading)
	}

	snap := s.seq[s.next%len(s.seq)]
	s.next = (s.next + 1) % len(s.seq)

	return snap, nil
}

// RandomSource produces random readings and never reports a setpoint, so the
// acquisition loop falls back to the stored one.
type RandomSource struct {
	writeRecorder

	readMu sync.Mutex
	rng    *rand.Rand
}

// NewRandomSource creates a random source. Equal seeds give equal sequences.
func NewRandomSource(seed uint64) *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomSource) Read(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	level := float64(s.rng.IntN(1001)) / 10
	rpm := float64(s.rng.IntN(3001))

	return Snapshot{
		LevelCM:   Float(level),
		PumpRPM:   Float(rpm),
		Start:     s.rng.IntN(2),
		Stop:      s.rng.IntN(2),
		EStop:     s.rng.IntN(2),
		Confirmed: s.rng.IntN(2),
	}, nil
}
