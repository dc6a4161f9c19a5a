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

// Package sink maps tank records onto a persistence.Store. A Mirror writes the
// same record to a primary and an optional secondary sink.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/tank-scada/pkg/constants"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence"
)

// Collections every sink holds.
var Collections = []string{
	constants.CollectionReadings,
	constants.CollectionSetpoints,
	constants.CollectionButtonStates,
}

// Sink is a named store with typed access to the tank collections.
type Sink struct {
	name  string
	store persistence.Store
}

// New wraps store. name shows up in logs, metrics and dual-sink responses.
func New(name string, store persistence.Store) *Sink {
	return &Sink{name: name, store: store}
}

func (s *Sink) Name() string {
	return s.name
}

func (s *Sink) Store() persistence.Store {
	return s.store
}

// EnsureCollections creates the tank collections if they do not exist yet.
func (s *Sink) EnsureCollections(ctx context.Context) error {
	for _, collection := range Collections {
		if err := s.store.CreateCollection(ctx, collection); err != nil {
			return fmt.Errorf("failed to create collection %s on %s sink: %w", collection, s.name, err)
		}
	}

	return nil
}

func (s *Sink) InsertReading(ctx context.Context, reading models.Reading) (models.Reading, error) {
	var saved models.Reading

	err := s.insert(ctx, constants.CollectionReadings, reading, &saved)

	return saved, err
}

// OverwriteLatestReading replaces the fields of the most recent reading and
// keeps its id and sequence. An empty collection gets a new record instead;
// inserted reports which of the two happened.
func (s *Sink) OverwriteLatestReading(ctx context.Context, reading models.Reading) (saved models.Reading, inserted bool, err error) {
	docs, err := s.store.Find(ctx, constants.CollectionReadings, *persistence.Latest(1))
	if err != nil {
		return models.Reading{}, false, fmt.Errorf("failed to find latest reading: %w", err)
	}

	if len(docs) == 0 {
		saved, err = s.InsertReading(ctx, reading)

		return saved, true, err
	}

	doc, err := models.ToDocument(reading)
	if err != nil {
		return models.Reading{}, false, err
	}

	id := docs[0].ID()
	if err := s.store.Update(ctx, constants.CollectionReadings, id, doc); err != nil {
		return models.Reading{}, false, fmt.Errorf("failed to overwrite reading %s: %w", id, err)
	}

	saved = reading
	saved.ID = id
	saved.Seq = docs[0].Seq()

	return saved, false, nil
}

// LatestReading returns nil when no reading exists.
func (s *Sink) LatestReading(ctx context.Context) (*models.Reading, error) {
	var reading models.Reading

	found, err := s.latest(ctx, constants.CollectionReadings, &reading)
	if err != nil || !found {
		return nil, err
	}

	return &reading, nil
}

func (s *Sink) InsertSetpoint(ctx context.Context, record models.SetpointRecord) (models.SetpointRecord, error) {
	var saved models.SetpointRecord

	err := s.insert(ctx, constants.CollectionSetpoints, record, &saved)

	return saved, err
}

// LatestSetpoint returns nil when no setpoint exists.
func (s *Sink) LatestSetpoint(ctx context.Context) (*models.SetpointRecord, error) {
	var record models.SetpointRecord

	found, err := s.latest(ctx, constants.CollectionSetpoints, &record)
	if err != nil || !found {
		return nil, err
	}

	return &record, nil
}

func (s *Sink) InsertButtons(ctx context.Context, state models.ButtonState) (models.ButtonState, error) {
	var saved models.ButtonState

	err := s.insert(ctx, constants.CollectionButtonStates, state, &saved)

	return saved, err
}

// LatestButtons returns nil when no button state exists.
func (s *Sink) LatestButtons(ctx context.Context) (*models.ButtonState, error) {
	var state models.ButtonState

	found, err := s.latest(ctx, constants.CollectionButtonStates, &state)
	if err != nil || !found {
		return nil, err
	}

	return &state, nil
}

// PruneOldest deletes up to n documents of collection in insertion order and
// returns how many were removed. Documents that vanished in between are skipped.
func (s *Sink) PruneOldest(ctx context.Context, collection string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	docs, err := s.store.Find(ctx, collection, *persistence.Oldest(n))
	if err != nil {
		return 0, fmt.Errorf("failed to find oldest %s: %w", collection, err)
	}

	deleted := 0

	for _, doc := range docs {
		if err := s.store.Delete(ctx, collection, doc.ID()); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				continue
			}

			return deleted, fmt.Errorf("failed to delete %s %s: %w", collection, doc.ID(), err)
		}

		deleted++
	}

	return deleted, nil
}

func (s *Sink) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Sink) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

func (s *Sink) insert(ctx context.Context, collection string, record interface{}, out interface{}) error {
	doc, err := models.ToDocument(record)
	if err != nil {
		return err
	}

	id, err := s.store.Insert(ctx, collection, doc)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	stored, err := s.store.Get(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("failed to read back %s %s: %w", collection, id, err)
	}

	return models.FromDocument(stored, out)
}

func (s *Sink) latest(ctx context.Context, collection string, out interface{}) (bool, error) {
	docs, err := s.store.Find(ctx, collection, *persistence.Latest(1))
	if err != nil {
		return false, fmt.Errorf("failed to find latest in %s: %w", collection, err)
	}

	if len(docs) == 0 {
		return false, nil
	}

	return true, models.FromDocument(docs[0], out)
}
