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

// Package memory provides an in-process persistence.Store.
//
// It is used by tests and by the "memory://" connection string for demo
// setups without a database. Documents are deep-copied on every boundary so
// callers can never mutate stored state.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	return ctx.Err()
}

// InMemoryStore implements persistence.Store on top of maps.
//
// Thread-safety: all methods may be called concurrently.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]persistence.Document
	seq         int64
	closed      bool

	// failWith, when set, is returned by every operation.
	failWith error
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		collections: make(map[string]map[string]persistence.Document),
	}
}

// SetFailure makes every subsequent operation fail with err. Pass nil to recover.
func (s *InMemoryStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failWith = err
}

func (s *InMemoryStore) check(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if s.closed {
		return persistence.ErrClosed
	}

	return s.failWith
}

// CreateCollection is idempotent.
func (s *InMemoryStore) CreateCollection(ctx context.Context, name string) error {
	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if _, exists := s.collections[name]; !exists {
		s.collections[name] = make(map[string]persistence.Document)
	}

	return nil
}

func (s *InMemoryStore) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if _, exists := s.collections[name]; !exists {
		return fmt.Errorf("collection %q does not exist", name)
	}

	delete(s.collections, name)

	return nil
}

// Insert assigns a fresh id and the next sequence number. The collection is
// created on first use.
func (s *InMemoryStore) Insert(ctx context.Context, collection string, doc persistence.Document) (string, error) {
	stored, err := cloneDocument(doc.StripReserved())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return "", err
	}

	coll, exists := s.collections[collection]
	if !exists {
		coll = make(map[string]persistence.Document)
		s.collections[collection] = coll
	}

	s.seq++
	id := uuid.New().String()
	stored[persistence.FieldID] = id
	stored[persistence.FieldSeq] = s.seq
	coll[id] = stored

	return id, nil
}

func (s *InMemoryStore) Get(ctx context.Context, collection string, id string) (persistence.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	doc, exists := s.collections[collection][id]
	if !exists {
		return nil, persistence.ErrNotFound
	}

	return cloneDocument(doc)
}

// Update replaces the body and keeps id and sequence.
func (s *InMemoryStore) Update(ctx context.Context, collection string, id string, doc persistence.Document) error {
	replacement, err := cloneDocument(doc.StripReserved())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	existing, exists := s.collections[collection][id]
	if !exists {
		return persistence.ErrNotFound
	}

	replacement[persistence.FieldID] = id
	replacement[persistence.FieldSeq] = existing[persistence.FieldSeq]
	s.collections[collection][id] = replacement

	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, collection string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if _, exists := s.collections[collection][id]; !exists {
		return persistence.ErrNotFound
	}

	delete(s.collections[collection], id)

	return nil
}

// Find returns copies of the matching documents. A missing collection yields
// an empty result.
func (s *InMemoryStore) Find(ctx context.Context, collection string, query persistence.Query) ([]persistence.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	coll := s.collections[collection]
	all := make([]persistence.Document, 0, len(coll))

	for _, doc := range coll {
		all = append(all, doc)
	}

	matched := persistence.Apply(all, query)
	results := make([]persistence.Document, 0, len(matched))

	for _, doc := range matched {
		docCopy, err := cloneDocument(doc)
		if err != nil {
			return nil, err
		}

		results = append(results, docCopy)
	}

	return results, nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.check(ctx)
}

// Close drops all data.
func (s *InMemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store already closed")
	}

	s.closed = true
	s.collections = make(map[string]map[string]persistence.Document)

	return nil
}

// Count returns the number of documents in a collection.
func (s *InMemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.collections[collection])
}

func cloneDocument(doc persistence.Document) (persistence.Document, error) {
	if doc == nil {
		return persistence.Document{}, nil
	}

	var out persistence.Document
	if err := deepcopy.Copy(&out, doc); err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}

	return out, nil
}
