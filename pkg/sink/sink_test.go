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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

var _ = Describe("Sink", func() {
	var (
		ctx   context.Context
		store *memory.InMemoryStore
		s     *sink.Sink
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewInMemoryStore()
		s = sink.New(constants.SinkPrimary, store)
		Expect(s.EnsureCollections(ctx)).To(Succeed())
	})

	It("should return nil for empty collections", func() {
		reading, err := s.LatestReading(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(reading).To(BeNil())

		setpoint, err := s.LatestSetpoint(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(setpoint).To(BeNil())

		buttons, err := s.LatestButtons(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(buttons).To(BeNil())
	})

	It("should insert readings and return the stored copy", func() {
		saved, err := s.InsertReading(ctx, models.Reading{Timestamp: "1:00:00 p. m.", SetpointCM: 20, LevelCM: 18.5, PumpRPM: 1200, Start: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.ID).NotTo(BeEmpty())
		Expect(saved.Seq).To(BeNumerically(">", 0))
		Expect(saved.LevelCM).To(Equal(18.5))

		latest, err := s.LatestReading(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(*latest).To(Equal(saved))
	})

	Describe("OverwriteLatestReading", func() {
		It("should insert into an empty collection", func() {
			saved, inserted, err := s.OverwriteLatestReading(ctx, models.Reading{LevelCM: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())
			Expect(saved.ID).NotTo(BeEmpty())
			Expect(store.Count(constants.CollectionReadings)).To(Equal(1))
		})

		It("should replace the most recent reading in place", func() {
			_, err := s.InsertReading(ctx, models.Reading{LevelCM: 1})
			Expect(err).NotTo(HaveOccurred())
			last, err := s.InsertReading(ctx, models.Reading{Timestamp: "1:00:00 p. m.", LevelCM: 2})
			Expect(err).NotTo(HaveOccurred())

			saved, inserted, err := s.OverwriteLatestReading(ctx, models.Reading{Timestamp: "1:00:01 p. m.", LevelCM: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeFalse())
			Expect(saved.ID).To(Equal(last.ID))
			Expect(saved.Seq).To(Equal(last.Seq))
			Expect(store.Count(constants.CollectionReadings)).To(Equal(2))

			latest, err := s.LatestReading(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.Timestamp).To(Equal("1:00:01 p. m."))
			Expect(latest.Seq).To(Equal(last.Seq))
		})
	})

	It("should keep setpoints and button states", func() {
		_, err := s.InsertSetpoint(ctx, models.SetpointRecord{SetpointCM: 30, Origin: constants.OriginController})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.InsertSetpoint(ctx, models.SetpointRecord{SetpointCM: 42, Origin: constants.OriginOperatorInterface})
		Expect(err).NotTo(HaveOccurred())

		setpoint, err := s.LatestSetpoint(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(setpoint.SetpointCM).To(Equal(42.0))
		Expect(setpoint.Origin).To(Equal(constants.OriginOperatorInterface))

		_, err = s.InsertButtons(ctx, models.ButtonState{Start: 1})
		Expect(err).NotTo(HaveOccurred())

		buttons, err := s.LatestButtons(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(buttons.Start).To(Equal(1))
	})

	Describe("PruneOldest", func() {
		var ids []string

		BeforeEach(func() {
			ids = nil

			for i := 0; i < 5; i++ {
				saved, err := s.InsertReading(ctx, models.Reading{PumpRPM: float64(i)})
				Expect(err).NotTo(HaveOccurred())

				ids = append(ids, saved.ID)
			}
		})

		It("should delete the oldest documents only", func() {
			deleted, err := s.PruneOldest(ctx, constants.CollectionReadings, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(3))
			Expect(store.Count(constants.CollectionReadings)).To(Equal(2))

			for _, id := range ids[:3] {
				_, err := store.Get(ctx, constants.CollectionReadings, id)
				Expect(err).To(HaveOccurred())
			}

			for _, id := range ids[3:] {
				_, err := store.Get(ctx, constants.CollectionReadings, id)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should stop at the collection size", func() {
			deleted, err := s.PruneOldest(ctx, constants.CollectionReadings, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(5))
		})

		It("should do nothing for a non-positive batch", func() {
			deleted, err := s.PruneOldest(ctx, constants.CollectionReadings, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(0))
			Expect(store.Count(constants.CollectionReadings)).To(Equal(5))
		})
	})

	It("should surface store failures", func() {
		store.SetFailure(errors.New("connection lost"))

		_, err := s.InsertReading(ctx, models.Reading{})
		Expect(err).To(MatchError(ContainSubstring("connection lost")))

		_, err = s.LatestReading(ctx)
		Expect(err).To(HaveOccurred())
	})
})
