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

// Package plc talks to the tank controller. Source is implemented by a
// simulated sequence, a random generator and an adapter that runs external
// read/write programs (for example snap7 scripts against an S7 PLC).
package plc

import (
	"context"
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
)

// ErrWriteRejected is returned when the controller refuses a write.
var ErrWriteRejected = errors.New("plc rejected write")

// ErrMalformedReading is returned when a read does not yield a usable snapshot.
var ErrMalformedReading = errors.New("malformed plc reading")

// Snapshot is one raw read from the controller. SetpointCM is nil when the
// controller does not report its target level.
type Snapshot struct {
	SetpointCM *float64 `json:"referencia_nivel_tanque_cm,omitempty"`
	LevelCM    *float64 `json:"nivel_actual_tanque_cm"`
	PumpRPM    *float64 `json:"rpms_bomba"`

	Start     int `json:"estado_boton_start"`
	Stop      int `json:"estado_boton_stop"`
	EStop     int `json:"estado_boton_paro_emergencia"`
	Confirmed int `json:"estado_boton_confirmar"`
}

// Validate checks that the mandatory measurements are present and flags are 0 or 1.
func (s Snapshot) Validate() error {
	if s.LevelCM == nil {
		return fmt.Errorf("%w: missing nivel_actual_tanque_cm", ErrMalformedReading)
	}

	if s.PumpRPM == nil {
		return fmt.Errorf("%w: missing rpms_bomba", ErrMalformedReading)
	}

	for name, flag := range map[string]int{
		"estado_boton_start":           s.Start,
		"estado_boton_stop":            s.Stop,
		"estado_boton_paro_emergencia": s.EStop,
		"estado_boton_confirmar":       s.Confirmed,
	} {
		if flag != 0 && flag != 1 {
			return fmt.Errorf("%w: %s must be 0 or 1, got %d", ErrMalformedReading, name, flag)
		}
	}

	return nil
}

// Reading converts the snapshot into a reading using setpoint when the
// controller did not report one.
func (s Snapshot) Reading(setpoint float64) models.Reading {
	if s.SetpointCM != nil {
		setpoint = *s.SetpointCM
	}

	return models.Reading{
		SetpointCM: setpoint,
		LevelCM:    deref(s.LevelCM),
		PumpRPM:    deref(s.PumpRPM),
		Start:      s.Start,
		Stop:       s.Stop,
		EStop:      s.EStop,
		Confirmed:  s.Confirmed,
	}
}

// WriteResult is the controller's answer to a write.
type WriteResult struct {
	Success  bool                  `json:"success"`
	Message  string                `json:"message,omitempty"`
	Error    string                `json:"error,omitempty"`
	Written  *float64              `json:"valor_escrito,omitempty"`
	Verified *float64              `json:"valor_verificado,omitempty"`
	States   *models.ButtonCommand `json:"estados,omitempty"`
}

// Source reads measurements from and writes commands to the controller.
type Source interface {
	Read(ctx context.Context) (Snapshot, error)
	WriteSetpoint(ctx context.Context, setpointCM float64) (WriteResult, error)
	WriteButtons(ctx context.Context, cmd models.ButtonCommand) (WriteResult, error)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}

	return *v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
