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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/united-manufacturing-hub/tank-scada/pkg/acquisition"
	"github.com/united-manufacturing-hub/tank-scada/pkg/cache"
	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/publisher"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

// refreshCache keeps the API cache in line with what the loop stored.
func refreshCache(c *cache.Cache) acquisition.Listener {
	return func(ctx context.Context, event acquisition.Event) {
		for sinkName, reading := range event.Readings {
			c.Set(ctx, cache.Key(constants.CollectionReadings, sinkName), reading)
		}

		for sinkName, record := range event.Setpoints {
			c.Set(ctx, cache.Key(constants.CollectionSetpoints, sinkName), record)
		}
	}
}

func publishReadings(pub *publisher.Publisher) acquisition.Listener {
	log := logger.For(logger.ComponentPublisher)

	return func(_ context.Context, event acquisition.Event) {
		if !event.Changed {
			return
		}

		if _, err := pub.PublishReading(event.Reading); err != nil {
			log.Warnf("Failed to publish reading: %v", err)
		}
	}
}

// initHealthCheck serves liveness and readiness checks on port.
func initHealthCheck(port int, mirror *sink.Mirror, c *cache.Cache) *http.Server {
	log := logger.For(logger.ComponentHealth)

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddReadinessCheck("stores", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), constants.StoreTimeout)
		defer cancel()

		return mirror.Ping(ctx)
	})
	health.AddReadinessCheck("cache", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		return c.Ping(ctx)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           health,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Health check server stopped: %v", err)
		}
	}()

	return server
}
