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
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/tank-scada/pkg/acquisition"
	"github.com/united-manufacturing-hub/tank-scada/pkg/api"
	"github.com/united-manufacturing-hub/tank-scada/pkg/cache"
	"github.com/united-manufacturing-hub/tank-scada/pkg/config"
	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/metrics"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence/dial"
	"github.com/united-manufacturing-hub/tank-scada/pkg/publisher"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sentry"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

var appVersion = constants.DefaultAppVersion

func main() {
	logger.Initialize()
	log := logger.For(logger.ComponentCore)

	cfg, err := config.Load()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "failed to load config: %v", err)
	}

	sentry.InitSentry(cfg.SentryDSN, appVersion, true)

	log.Infow("Starting tank SCADA service",
		"version", appVersion,
		"primaryStore", dial.Redact(cfg.PrimaryStoreURI),
		"secondaryStore", dial.Redact(cfg.SecondaryStoreURI),
		"plcMode", cfg.PLC.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mirror, err := openMirror(ctx, cfg, log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "failed to open stores: %v", err)
	}

	source, err := cfg.PLC.Source()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "failed to create reading source: %v", err)
	}

	latestCache := cache.New(cache.NewRedisClient(cfg.Redis.URI, cfg.Redis.Password))

	// Entries left in redis by an earlier run may carry sequences of a store
	// that no longer exists.
	for _, s := range mirror.Sinks() {
		for _, collection := range sink.Collections {
			latestCache.Delete(ctx, cache.Key(collection, s.Name()))
		}
	}

	var pub *publisher.Publisher
	if cfg.MQTT.BrokerURL != "" {
		pub, err = publisher.Connect(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID, cfg.MQTT.Topic)
		if err != nil {
			// Readings still reach the stores without a broker.
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "failed to connect to MQTT broker: %v", err)
			pub = nil
		}
	}

	loop := acquisition.NewLoop(cfg.Acquisition(), source, mirror)
	loop.AddListener(refreshCache(latestCache))
	if pub != nil {
		loop.AddListener(publishReadings(pub))
	}

	reconciler := acquisition.NewButtonReconciler(cfg.ButtonReconcileInterval, source, mirror).
		WithTimeout(cfg.EffectiveCycleTimeout())

	apiServer := api.NewServer(mirror, source, reconciler, latestCache)
	httpServer := apiServer.HTTPServer(cfg.Port)

	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.MetricsPort))
	healthServer := initHealthCheck(cfg.HealthPort, mirror, latestCache)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return loop.Execute(gctx)
	})

	group.Go(func() error {
		return reconciler.Execute(gctx)
	})

	group.Go(func() error {
		log.Infof("API listening on %s", httpServer.Addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		apiServer.SetShuttingDown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		for _, srv := range []*http.Server{httpServer, metricsServer, healthServer} {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warnf("Failed to shut down %s: %v", srv.Addr, err)
			}
		}

		return nil
	})

	if err := group.Wait(); err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeError, log)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), constants.StoreTimeout)
	defer cancel()

	if err := mirror.Close(closeCtx); err != nil {
		log.Warnf("Failed to close stores: %v", err)
	}

	if err := latestCache.Close(); err != nil {
		log.Warnf("Failed to close cache: %v", err)
	}

	if pub != nil {
		pub.Close()
	}

	log.Info("Shutdown complete")
	sentry.Flush(3 * time.Second)
	_ = logger.Sync()
}

// openMirror connects to the configured stores. The primary store is retried
// with exponential backoff; a secondary store that cannot be reached is
// skipped.
func openMirror(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*sink.Mirror, error) {
	primary, err := openSink(ctx, constants.SinkPrimary, cfg.PrimaryStoreURI, log)
	if err != nil {
		return nil, err
	}

	var secondary *sink.Sink
	if cfg.SecondaryStoreURI != "" {
		secondary, err = openSink(ctx, constants.SinkSecondary, cfg.SecondaryStoreURI, log)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "running without %s store: %v", constants.SinkSecondary, err)
			secondary = nil
		}
	}

	mirror := sink.NewMirror(primary, secondary)

	if err := mirror.EnsureCollections(ctx); err != nil {
		if sink.FailedSink(err, constants.SinkPrimary) {
			return nil, err
		}

		log.Warnf("Failed to prepare collections: %v", err)
	}

	return mirror, nil
}

func openSink(ctx context.Context, name string, uri string, log *zap.SugaredLogger) (*sink.Sink, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute

	var s *sink.Sink

	operation := func() error {
		openCtx, cancel := context.WithTimeout(ctx, constants.StoreTimeout)
		defer cancel()

		store, err := dial.Open(openCtx, uri)
		if err != nil {
			return err
		}

		s = sink.New(name, store)

		return nil
	}

	notify := func(err error, next time.Duration) {
		log.Warnf("Failed to open %s store %s, retrying in %s: %v", name, dial.Redact(uri), next, err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", name, err)
	}

	log.Infof("Connected to %s store %s", name, dial.Redact(uri))

	return s, nil
}
