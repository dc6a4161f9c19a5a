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

package constants

import "time"

const (
	// DefaultAppVersion is used when the binary was built without a version.
	DefaultAppVersion = "0.0.0-dev"

	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)

// Acquisition loop.
const (
	DefaultTickInterval = 1 * time.Second

	// PruneEvery is the number of successful acquisitions between two prune runs.
	PruneEvery = 500
	// PruneBatch is how many of the oldest documents a prune run removes.
	PruneBatch = 100

	// FallbackSetpoint is used when neither the source nor any store knows a setpoint.
	FallbackSetpoint = 100.0
)

// DefaultButtonReconcileInterval is the period of the button reconciliation
// timer. A configured value of 0 disables it.
const DefaultButtonReconcileInterval = 1 * time.Second

// Collections.
const (
	CollectionReadings     = "readings"
	CollectionSetpoints    = "setpoints"
	CollectionButtonStates = "button_states"
)

// Sink names as exposed by the HTTP API in dual-sink mode.
const (
	SinkPrimary   = "cloud"
	SinkSecondary = "local"
)

// Setpoint origins.
const (
	OriginController        = "controller"
	OriginOperatorInterface = "operator-interface"
)

// DisplayTimeZone is the IANA zone readings are stamped in.
const DisplayTimeZone = "America/Bogota"

// HTTP and process endpoints.
const (
	DefaultAPIPort     = 5000
	DefaultMetricsPort = 2112
	DefaultHealthPort  = 8086

	// StoreTimeout bounds a single store call on one sink.
	StoreTimeout = 5 * time.Second
	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout = 10 * time.Second
)
