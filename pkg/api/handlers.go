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

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/united-manufacturing-hub/tank-scada/pkg/cache"
	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/metrics"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

type setpointRequest struct {
	SetpointCM *float64 `json:"referencia_nivel_tanque_cm"`
}

// Missing flags are 0.
type buttonsRequest struct {
	Start int `json:"estado_boton_start"`
	Stop  int `json:"estado_boton_stop"`
	EStop int `json:"estado_boton_paro_emergencia"`
}

func (r buttonsRequest) validate() error {
	for name, flag := range map[string]int{
		"estado_boton_start":           r.Start,
		"estado_boton_stop":            r.Stop,
		"estado_boton_paro_emergencia": r.EStop,
	} {
		if flag != 0 && flag != 1 {
			return fmt.Errorf("%s must be 0 or 1, got %d", name, flag)
		}
	}

	return nil
}

func (s *Server) getData(c *gin.Context) {
	values, err := latest(c.Request.Context(), s, constants.CollectionReadings, (*sink.Sink).LatestReading)
	if err != nil {
		s.handleInternalServerError(c, "failed to get latest reading", err)

		return
	}

	c.JSON(http.StatusOK, shape(s.mirror, values))
}

func (s *Server) getSetpoint(c *gin.Context) {
	values, err := latest(c.Request.Context(), s, constants.CollectionSetpoints, (*sink.Sink).LatestSetpoint)
	if err != nil {
		s.handleInternalServerError(c, "failed to get latest setpoint", err)

		return
	}

	c.JSON(http.StatusOK, shape(s.mirror, values))
}

func (s *Server) getButtons(c *gin.Context) {
	values, err := latest(c.Request.Context(), s, constants.CollectionButtonStates, (*sink.Sink).LatestButtons)
	if err != nil {
		s.handleInternalServerError(c, "failed to get button state", err)

		return
	}

	c.JSON(http.StatusOK, shape(s.mirror, values))
}

// postSetpoint writes the setpoint to the PLC first and persists it only when
// the PLC accepted it.
func (s *Server) postSetpoint(c *gin.Context) {
	var request setpointRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.handleInvalidInputError(c, err)

		return
	}

	if request.SetpointCM == nil {
		s.handleInvalidInputError(c, errors.New("referencia_nivel_tanque_cm is required"))

		return
	}

	ctx := c.Request.Context()
	value := *request.SetpointCM
	timestamp := models.DisplayTime(s.now())

	result, err := s.source.WriteSetpoint(ctx, value)
	metrics.ObservePLCWrite("setpoint", err)

	if err != nil {
		s.handleInternalServerError(c, "failed to save setpoint", fmt.Errorf("failed to write setpoint to plc: %w", err))

		return
	}

	saved, err := s.mirror.InsertSetpoint(ctx, models.SetpointRecord{
		Timestamp:  timestamp,
		SetpointCM: value,
		Origin:     constants.OriginOperatorInterface,
	})
	if sink.FailedSink(err, s.mirror.Primary().Name()) {
		s.handleInternalServerError(c, "failed to save setpoint", err)

		return
	}

	metrics.IncSetpointRecorded(constants.OriginOperatorInterface)
	s.log.Infof("Operator setpoint %g cm written to plc and stored", value)

	values := make(map[string]*models.SetpointRecord, len(saved))
	for name, record := range saved {
		values[name] = &record
		s.remember(ctx, constants.CollectionSetpoints, name, record)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"setpoint":  shape(s.mirror, values),
		"plcResult": result,
	})
}

// postButtons writes the button state to the PLC, persists it and tells the
// reconciler about it.
func (s *Server) postButtons(c *gin.Context) {
	var request buttonsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.handleInvalidInputError(c, err)

		return
	}

	if err := request.validate(); err != nil {
		s.handleInvalidInputError(c, err)

		return
	}

	ctx := c.Request.Context()
	state := models.ButtonState{
		Timestamp: models.DisplayTime(s.now()),
		Start:     request.Start,
		Stop:      request.Stop,
		EStop:     request.EStop,
	}

	result, err := s.source.WriteButtons(ctx, state.Command())
	metrics.ObservePLCWrite("buttons", err)

	if err != nil {
		s.handleInternalServerError(c, "failed to update buttons", fmt.Errorf("failed to write button state to plc: %w", err))

		return
	}

	saved, err := s.mirror.InsertButtons(ctx, state)
	if sink.FailedSink(err, s.mirror.Primary().Name()) {
		s.handleInternalServerError(c, "failed to update buttons", err)

		return
	}

	if s.buttons != nil {
		s.buttons.Remember(state)
	}

	values := make(map[string]*models.ButtonState, len(saved))
	for name, record := range saved {
		values[name] = &record
		s.remember(ctx, constants.CollectionButtonStates, name, record)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"botones":   shape(s.mirror, values),
		"plcResult": result,
	})
}

func (s *Server) remember(ctx context.Context, collection string, sinkName string, value interface{}) {
	if s.cache != nil {
		s.cache.Set(ctx, cache.Key(collection, sinkName), value)
	}
}

// latest returns the newest record of collection per sink name, consulting the
// cache first. Store reads only fill the cache when nothing newer was cached
// meanwhile. A failing sink is logged and reported as nil; only a failure of
// every sink is an error.
func latest[T any](ctx context.Context, s *Server, collection string, fetch func(*sink.Sink, context.Context) (*T, error)) (map[string]*T, error) {
	sinks := s.mirror.Sinks()
	values := make(map[string]*T, len(sinks))

	var errs []error

	for _, sk := range sinks {
		key := cache.Key(collection, sk.Name())

		if s.cache != nil {
			var cached T
			if s.cache.Get(ctx, key, &cached) {
				values[sk.Name()] = &cached

				continue
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, constants.StoreTimeout)
		value, err := fetch(sk, callCtx)
		cancel()

		if err != nil {
			s.log.Warnf("Failed to get latest %s from %s sink: %v", collection, sk.Name(), err)
			metrics.IncErrorCount(metrics.ComponentAPI, sk.Name())
			errs = append(errs, fmt.Errorf("%s sink: %w", sk.Name(), err))
			values[sk.Name()] = nil

			continue
		}

		values[sk.Name()] = value

		if value != nil && s.cache != nil {
			s.cache.Fill(ctx, key, value)
		}
	}

	if len(errs) == len(sinks) {
		return nil, errors.Join(errs...)
	}

	return values, nil
}

// shape returns the primary value in single-sink mode and an object keyed by
// sink name in dual-sink mode. Missing values encode as null.
func shape[T any](mirror *sink.Mirror, values map[string]*T) interface{} {
	if !mirror.Dual() {
		return values[mirror.Primary().Name()]
	}

	return gin.H{
		mirror.Primary().Name():   values[mirror.Primary().Name()],
		mirror.Secondary().Name(): values[mirror.Secondary().Name()],
	}
}
