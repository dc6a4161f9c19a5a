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

package sink_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

var _ = Describe("Mirror", func() {
	var (
		ctx       context.Context
		primary   *memory.InMemoryStore
		secondary *memory.InMemoryStore
		mirror    *sink.Mirror
	)

	BeforeEach(func() {
		ctx = context.Background()
		primary = memory.NewInMemoryStore()
		secondary = memory.NewInMemoryStore()
		mirror = sink.NewMirror(
			sink.New(constants.SinkPrimary, primary),
			sink.New(constants.SinkSecondary, secondary),
		)
		Expect(mirror.EnsureCollections(ctx)).To(Succeed())
	})

	It("should list the primary first", func() {
		Expect(mirror.Dual()).To(BeTrue())
		Expect(mirror.Sinks()).To(HaveLen(2))
		Expect(mirror.Sinks()[0].Name()).To(Equal(constants.SinkPrimary))
		Expect(mirror.Secondary().Name()).To(Equal(constants.SinkSecondary))
	})

	It("should work with a single sink", func() {
		single := sink.NewMirror(sink.New(constants.SinkPrimary, primary), nil)
		Expect(single.Dual()).To(BeFalse())
		Expect(single.Secondary()).To(BeNil())
		Expect(single.Sinks()).To(HaveLen(1))
	})

	It("should write identical records to both sinks", func() {
		record := models.SetpointRecord{Timestamp: "2:00:00 p. m.", SetpointCM: 42, Origin: constants.OriginOperatorInterface}

		saved, err := mirror.InsertSetpoint(ctx, record)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved).To(HaveKey(constants.SinkPrimary))
		Expect(saved).To(HaveKey(constants.SinkSecondary))

		cloud, local := saved[constants.SinkPrimary], saved[constants.SinkSecondary]
		Expect(cloud.Timestamp).To(Equal(local.Timestamp))
		Expect(cloud.SetpointCM).To(Equal(local.SetpointCM))
		Expect(cloud.Origin).To(Equal(local.Origin))
	})

	It("should keep writing to the other sink when one fails", func() {
		primary.SetFailure(errors.New("primary down"))

		saved, err := mirror.InsertButtons(ctx, models.ButtonState{Stop: 1})
		Expect(err).To(HaveOccurred())
		Expect(sink.FailedSink(err, constants.SinkPrimary)).To(BeTrue())
		Expect(sink.FailedSink(err, constants.SinkSecondary)).To(BeFalse())
		Expect(saved).NotTo(HaveKey(constants.SinkPrimary))
		Expect(saved).To(HaveKey(constants.SinkSecondary))
		Expect(secondary.Count(constants.CollectionButtonStates)).To(Equal(1))
	})

	It("should count successful sinks", func() {
		secondary.SetFailure(errors.New("local disk full"))

		succeeded, err := mirror.Each(ctx, "insert reading", func(ctx context.Context, s *sink.Sink) error {
			_, err := s.InsertReading(ctx, models.Reading{LevelCM: 3})

			return err
		})
		Expect(succeeded).To(Equal(1))

		var writeErr *sink.WriteError
		Expect(errors.As(err, &writeErr)).To(BeTrue())
		Expect(writeErr.Sink).To(Equal(constants.SinkSecondary))
		Expect(writeErr.Op).To(Equal("insert reading"))
		Expect(err).To(MatchError(ContainSubstring("local disk full")))
	})

	It("should bound every sink call with the timeout", func() {
		mirror.WithTimeout(10 * time.Millisecond)

		_, err := mirror.Each(ctx, "slow", func(ctx context.Context, _ *sink.Sink) error {
			<-ctx.Done()

			return ctx.Err()
		})
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})

	Describe("LatestSetpoint", func() {
		It("should return nil when no sink has a setpoint", func() {
			Expect(mirror.LatestSetpoint(ctx)).To(BeNil())
		})

		It("should prefer the primary", func() {
			_, err := mirror.Primary().InsertSetpoint(ctx, models.SetpointRecord{SetpointCM: 10})
			Expect(err).NotTo(HaveOccurred())
			_, err = mirror.Secondary().InsertSetpoint(ctx, models.SetpointRecord{SetpointCM: 20})
			Expect(err).NotTo(HaveOccurred())

			Expect(mirror.LatestSetpoint(ctx).SetpointCM).To(Equal(10.0))
		})

		It("should fall back to the secondary when the primary fails", func() {
			_, err := mirror.Secondary().InsertSetpoint(ctx, models.SetpointRecord{SetpointCM: 20})
			Expect(err).NotTo(HaveOccurred())
			primary.SetFailure(errors.New("primary down"))

			Expect(mirror.LatestSetpoint(ctx).SetpointCM).To(Equal(20.0))
		})
	})

	It("should report ping and close failures per sink", func() {
		Expect(mirror.Ping(ctx)).To(Succeed())

		secondary.SetFailure(errors.New("unreachable"))
		err := mirror.Ping(ctx)
		Expect(sink.FailedSink(err, constants.SinkSecondary)).To(BeTrue())

		Expect(mirror.Close(ctx)).To(Succeed())
	})
})
