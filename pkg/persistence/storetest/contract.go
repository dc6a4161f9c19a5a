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

// Package storetest holds the behaviour every persistence.Store backend must
// show. Backend test suites call DescribeContract with a factory.
package storetest

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence"
)

const collection = "readings"

// DescribeContract registers the shared store specs.
func DescribeContract(name string, newStore func() persistence.Store) bool {
	return Describe(name+" store contract", func() {
		var (
			ctx   context.Context
			store persistence.Store
		)

		BeforeEach(func() {
			ctx = context.Background()
			store = newStore()
			Expect(store.CreateCollection(ctx, collection)).To(Succeed())
		})

		AfterEach(func() {
			_ = store.Close(ctx)
		})

		It("should create collections idempotently", func() {
			Expect(store.CreateCollection(ctx, collection)).To(Succeed())
		})

		It("should reject invalid collection names", func() {
			Expect(store.CreateCollection(ctx, "bad-name")).NotTo(Succeed())
		})

		It("should assign ids and increasing sequences", func() {
			first, err := store.Insert(ctx, collection, persistence.Document{"nivel_actual_tanque_cm": 18.5})
			Expect(err).NotTo(HaveOccurred())

			second, err := store.Insert(ctx, collection, persistence.Document{"nivel_actual_tanque_cm": 25.8})
			Expect(err).NotTo(HaveOccurred())
			Expect(second).NotTo(Equal(first))

			a, err := store.Get(ctx, collection, first)
			Expect(err).NotTo(HaveOccurred())
			b, err := store.Get(ctx, collection, second)
			Expect(err).NotTo(HaveOccurred())

			Expect(a.ID()).To(Equal(first))
			Expect(b.Seq()).To(BeNumerically(">", a.Seq()))
		})

		It("should ignore caller supplied reserved fields on insert", func() {
			id, err := store.Insert(ctx, collection, persistence.Document{
				persistence.FieldID:  "forged",
				persistence.FieldSeq: 999999,
				"rpms_bomba":         1200,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(Equal("forged"))

			doc, err := store.Get(ctx, collection, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Seq()).NotTo(Equal(int64(999999)))
		})

		It("should return ErrNotFound for unknown ids", func() {
			_, err := store.Get(ctx, collection, "missing")
			Expect(err).To(MatchError(persistence.ErrNotFound))

			Expect(store.Update(ctx, collection, "missing", persistence.Document{})).To(MatchError(persistence.ErrNotFound))
			Expect(store.Delete(ctx, collection, "missing")).To(MatchError(persistence.ErrNotFound))
		})

		It("should keep id and sequence on update", func() {
			id, err := store.Insert(ctx, collection, persistence.Document{"hora": "1:00:00 p. m.", "rpms_bomba": 1200})
			Expect(err).NotTo(HaveOccurred())

			before, err := store.Get(ctx, collection, id)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Update(ctx, collection, id, persistence.Document{"hora": "1:00:01 p. m.", "rpms_bomba": 1500})).To(Succeed())

			after, err := store.Get(ctx, collection, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(after.ID()).To(Equal(id))
			Expect(after.Seq()).To(Equal(before.Seq()))
			Expect(after["hora"]).To(Equal("1:00:01 p. m."))
			rpm, ok := persistence.ToFloat(after["rpms_bomba"])
			Expect(ok).To(BeTrue())
			Expect(rpm).To(BeNumerically("==", 1500))
		})

		It("should delete documents", func() {
			id, err := store.Insert(ctx, collection, persistence.Document{"rpms_bomba": 1})
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Delete(ctx, collection, id)).To(Succeed())

			_, err = store.Get(ctx, collection, id)
			Expect(err).To(MatchError(persistence.ErrNotFound))
		})

		Context("when finding documents", func() {
			var ids []string

			BeforeEach(func() {
				ids = nil

				for i := 1; i <= 5; i++ {
					origin := "operator-interface"
					if i%2 == 0 {
						origin = "controller"
					}

					id, err := store.Insert(ctx, collection, persistence.Document{
						"rpms_bomba": i * 100,
						"origen":     origin,
					})
					Expect(err).NotTo(HaveOccurred())

					ids = append(ids, id)
				}
			})

			It("should return the latest document first", func() {
				docs, err := store.Find(ctx, collection, *persistence.Latest(1))
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(1))
				Expect(docs[0].ID()).To(Equal(ids[4]))
			})

			It("should return the oldest documents in insertion order", func() {
				docs, err := store.Find(ctx, collection, *persistence.Oldest(2))
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(2))
				Expect(docs[0].ID()).To(Equal(ids[0]))
				Expect(docs[1].ID()).To(Equal(ids[1]))
			})

			It("should skip documents", func() {
				docs, err := store.Find(ctx, collection, *persistence.Latest(2).Skip(1))
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(2))
				Expect(docs[0].ID()).To(Equal(ids[3]))
				Expect(docs[1].ID()).To(Equal(ids[2]))
			})

			It("should filter documents", func() {
				query := persistence.NewQuery().
					Filter("origen", persistence.Eq, "controller").
					Sort(persistence.FieldSeq, persistence.Desc)

				docs, err := store.Find(ctx, collection, *query)
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(2))
				Expect(docs[0].ID()).To(Equal(ids[3]))
				Expect(docs[1].ID()).To(Equal(ids[1]))
			})

			It("should keep the sequence of an updated document", func() {
				Expect(store.Update(ctx, collection, ids[0], persistence.Document{"rpms_bomba": 9999})).To(Succeed())

				docs, err := store.Find(ctx, collection, *persistence.Latest(1))
				Expect(err).NotTo(HaveOccurred())
				Expect(docs[0].ID()).To(Equal(ids[4]))
			})

			It("should return every document for an empty query", func() {
				docs, err := store.Find(ctx, collection, *persistence.NewQuery())
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(5))
			})
		})

		It("should report closed stores", func() {
			Expect(store.Ping(ctx)).To(Succeed())
			Expect(store.Close(ctx)).To(Succeed())
			Expect(store.Ping(ctx)).NotTo(Succeed())
			Expect(store.Close(ctx)).NotTo(Succeed())
		})
	})
}
