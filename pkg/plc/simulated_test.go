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

package plc_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/plc"
)

var _ = Describe("SequenceSource", func() {
	var (
		ctx    context.Context
		source *plc.SequenceSource
	)

	BeforeEach(func() {
		ctx = context.Background()
		source = plc.NewSequenceSource()
	})

	It("should replay the ten demo readings and wrap around", func() {
		var levels []float64

		for i := 0; i < 11; i++ {
			snap, err := source.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Validate()).To(Succeed())
			Expect(snap.SetpointCM).NotTo(BeNil())

			levels = append(levels, *snap.LevelCM)
		}

		Expect(levels[:10]).To(Equal([]float64{18.5, 25.8, 35.2, 48.7, 55.3, 68.9, 75.4, 85.6, 92.1, 98.7}))
		Expect(levels[10]).To(Equal(18.5))
	})

	It("should mark confirmations on the second, seventh and tenth reading", func() {
		var confirmed []int

		for i := 0; i < 10; i++ {
			snap, err := source.Read(ctx)
			Expect(err).NotTo(HaveOccurred())

			if snap.Confirmed == 1 {
				confirmed = append(confirmed, i)
			}
		}

		Expect(confirmed).To(Equal([]int{1, 6, 9}))
	})

	It("should record writes", func() {
		result, err := source.WriteSetpoint(ctx, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(*result.Written).To(Equal(42.0))

		value, ok := source.LastSetpoint()
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal(42.0))

		cmd := models.ButtonCommand{Start: true, Emergency: true}
		result, err = source.WriteButtons(ctx, cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(*result.States).To(Equal(cmd))

		last, count := source.LastButtons()
		Expect(last).To(Equal(cmd))
		Expect(count).To(Equal(1))
	})

	It("should fail on a cancelled context", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := source.Read(cancelled)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("should fail on an empty sequence", func() {
		_, err := plc.NewSequenceSourceFrom(nil).Read(ctx)
		Expect(err).To(MatchError(plc.ErrMalformedReading))
	})
})

var _ = Describe("RandomSource", func() {
	It("should never report a setpoint and stay in range", func() {
		source := plc.NewRandomSource(7)

		for i := 0; i < 100; i++ {
			snap, err := source.Read(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Validate()).To(Succeed())
			Expect(snap.SetpointCM).To(BeNil())
			Expect(*snap.LevelCM).To(BeNumerically(">=", 0))
			Expect(*snap.LevelCM).To(BeNumerically("<=", 100))
			Expect(*snap.PumpRPM).To(BeNumerically("<=", 3000))
		}
	})

	It("should be deterministic per seed", func() {
		a, b := plc.NewRandomSource(3), plc.NewRandomSource(3)

		for i := 0; i < 5; i++ {
			sa, err := a.Read(context.Background())
			Expect(err).NotTo(HaveOccurred())
			sb, err := b.Read(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(sa).To(Equal(sb))
		}
	})
})

var _ = Describe("Snapshot", func() {
	It("should prefer the reported setpoint", func() {
		snap := plc.Snapshot{SetpointCM: plc.Float(60), LevelCM: plc.Float(55.3), PumpRPM: plc.Float(2400), EStop: 1}

		reading := snap.Reading(100)
		Expect(reading.SetpointCM).To(Equal(60.0))
		Expect(reading.LevelCM).To(Equal(55.3))
		Expect(reading.EStop).To(Equal(1))
	})

	It("should use the fallback when no setpoint is reported", func() {
		snap := plc.Snapshot{LevelCM: plc.Float(1), PumpRPM: plc.Float(2)}
		Expect(snap.Reading(100).SetpointCM).To(Equal(100.0))
	})

	DescribeTable("Validate",
		func(snap plc.Snapshot, valid bool) {
			if valid {
				Expect(snap.Validate()).To(Succeed())
			} else {
				Expect(snap.Validate()).To(MatchError(plc.ErrMalformedReading))
			}
		},
		Entry("complete", plc.Snapshot{LevelCM: plc.Float(1), PumpRPM: plc.Float(1)}, true),
		Entry("missing level", plc.Snapshot{PumpRPM: plc.Float(1)}, false),
		Entry("missing rpm", plc.Snapshot{LevelCM: plc.Float(1)}, false),
		Entry("flag out of range", plc.Snapshot{LevelCM: plc.Float(1), PumpRPM: plc.Float(1), Stop: 2}, false),
	)
})
