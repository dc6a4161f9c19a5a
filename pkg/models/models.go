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

// Package models defines the records exchanged between the reading source,
// the stores and the dashboard. JSON names are the field names the dashboard
// and existing databases use.
package models

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence"
)

// Reading is one measurement snapshot.
type Reading struct {
	ID  string `json:"_id,omitempty"`
	Seq int64  `json:"_seq,omitempty"`

	// Timestamp is a display string in the Bogotá zone. It is excluded from
	// change detection.
	Timestamp string `json:"hora"`

	SetpointCM float64 `json:"referencia_nivel_tanque_cm"`
	LevelCM    float64 `json:"nivel_actual_tanque_cm"`
	PumpRPM    float64 `json:"rpms_bomba"`

	Start     int `json:"estado_boton_start"`
	Stop      int `json:"estado_boton_stop"`
	EStop     int `json:"estado_boton_paro_emergencia"`
	Confirmed int `json:"estado_boton_confirmar"`
}

// SameMeasurement reports whether both readings carry identical values.
// Timestamp and store metadata are ignored. Comparison is exact.
func (r Reading) SameMeasurement(o Reading) bool {
	return r.SetpointCM == o.SetpointCM &&
		r.LevelCM == o.LevelCM &&
		r.PumpRPM == o.PumpRPM &&
		r.Start == o.Start &&
		r.Stop == o.Stop &&
		r.EStop == o.EStop &&
		r.Confirmed == o.Confirmed
}

// SetpointRecord is an operator or controller target level.
type SetpointRecord struct {
	ID  string `json:"_id,omitempty"`
	Seq int64  `json:"_seq,omitempty"`

	Timestamp  string  `json:"hora"`
	SetpointCM float64 `json:"referencia_nivel_tanque_cm"`
	Origin     string  `json:"origen"`
}

// ButtonState is the operator panel state as stored.
type ButtonState struct {
	ID  string `json:"_id,omitempty"`
	Seq int64  `json:"_seq,omitempty"`

	Timestamp string `json:"hora"`
	Start     int    `json:"estado_boton_start"`
	Stop      int    `json:"estado_boton_stop"`
	EStop     int    `json:"estado_boton_paro_emergencia"`
}

// SameFlags compares the three flags and ignores timestamp and metadata.
func (b ButtonState) SameFlags(o ButtonState) bool {
	return b.Start == o.Start && b.Stop == o.Stop && b.EStop == o.EStop
}

// Command converts the stored 0/1 flags into the boolean triple the PLC takes.
func (b ButtonState) Command() ButtonCommand {
	return ButtonCommand{
		Start:     b.Start == 1,
		Stop:      b.Stop == 1,
		Emergency: b.EStop == 1,
	}
}

// ButtonCommand is what gets written to the PLC button area.
type ButtonCommand struct {
	Start     bool `json:"start"`
	Stop      bool `json:"stop"`
	Emergency bool `json:"emergencia"`
}

// ToDocument converts a record into a store document.
func ToDocument(v interface{}) (persistence.Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	var doc persistence.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert record to document: %w", err)
	}

	return doc, nil
}

// FromDocument decodes a store document into a record.
func FromDocument(doc persistence.Document, v interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}

	return nil
}
