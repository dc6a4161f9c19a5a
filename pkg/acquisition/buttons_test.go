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

package acquisition_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/tank-scada/pkg/acquisition"
	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

var _ = Describe("ButtonReconciler", func() {
	var (
		ctx        context.Context
		source     *fakeSource
		mirror     *sink.Mirror
		reconciler *acquisition.ButtonReconciler
	)

	store := func(state models.ButtonState) {
		_, err := mirror.Primary().InsertButtons(ctx, state)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		source = &fakeSource{}
		mirror = sink.NewMirror(sink.New(constants.SinkPrimary, memory.NewInMemoryStore()), nil)
		Expect(mirror.EnsureCollections(ctx)).To(Succeed())
		reconciler = acquisition.NewButtonReconciler(time.Second, source, mirror)
	})

	It("should do nothing without a stored state", func() {
		Expect(reconciler.Reconcile(ctx)).To(Succeed())
		Expect(source.buttonWrites()).To(BeEmpty())
	})

	It("should not push the all-released initial state", func() {
		store(models.ButtonState{})

		Expect(reconciler.Reconcile(ctx)).To(Succeed())
		Expect(source.buttonWrites()).To(BeEmpty())
	})

	It("should push a changed state once", func() {
		store(models.ButtonState{Start: 1, EStop: 1})

		Expect(reconciler.Reconcile(ctx)).To(Succeed())
		Expect(reconciler.Reconcile(ctx)).To(Succeed())

		Expect(source.buttonWrites()).To(Equal([]models.ButtonCommand{{Start: true, Emergency: true}}))
		Expect(reconciler.Pushed().Start).To(Equal(1))
	})

	It("should push again after the stored state changes", func() {
		store(models.ButtonState{Start: 1})
		Expect(reconciler.Reconcile(ctx)).To(Succeed())

		store(models.ButtonState{Stop: 1})
		Expect(reconciler.Reconcile(ctx)).To(Succeed())

		Expect(source.buttonWrites()).To(Equal([]models.ButtonCommand{{Start: true}, {Stop: true}}))
	})

	It("should not re-push a remembered state", func() {
		state := models.ButtonState{Stop: 1}
		store(state)
		reconciler.Remember(state)

		Expect(reconciler.Reconcile(ctx)).To(Succeed())
		Expect(source.buttonWrites()).To(BeEmpty())
	})

	It("should retry after a failed write", func() {
		store(models.ButtonState{EStop: 1})
		source.failWrites(errPLCOffline)

		Expect(reconciler.Reconcile(ctx)).To(MatchError(errPLCOffline))
		Expect(reconciler.Pushed().EStop).To(Equal(0))

		source.failWrites(nil)
		Expect(reconciler.Reconcile(ctx)).To(Succeed())
		Expect(source.buttonWrites()).To(HaveLen(1))
	})

	It("should return at once when disabled", func() {
		disabled := acquisition.NewButtonReconciler(0, source, mirror)
		Expect(disabled.Execute(ctx)).To(Succeed())
	})

	It("should reconcile on its own timer", func() {
		reconciler = acquisition.NewButtonReconciler(10*time.Millisecond, source, mirror)
		store(models.ButtonState{Start: 1})

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)

		go func() { done <- reconciler.Execute(runCtx) }()

		Eventually(source.buttonWrites).Should(HaveLen(1))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should give a slow write the configured timeout", func() {
		reconciler = acquisition.NewButtonReconciler(10*time.Millisecond, source, mirror).WithTimeout(500 * time.Millisecond)
		store(models.ButtonState{Stop: 1})
		source.slowWrites(30 * time.Millisecond)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)

		go func() { done <- reconciler.Execute(runCtx) }()

		Eventually(source.buttonWrites).Should(HaveLen(1))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should cut a slow write off at the interval by default", func() {
		reconciler = acquisition.NewButtonReconciler(10*time.Millisecond, source, mirror).WithTimeout(time.Millisecond)
		store(models.ButtonState{Stop: 1})
		source.slowWrites(30 * time.Millisecond)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)

		go func() { done <- reconciler.Execute(runCtx) }()

		Consistently(source.buttonWrites, 150*time.Millisecond).Should(BeEmpty())

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
