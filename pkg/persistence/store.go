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

// Package persistence defines the document store used for readings, setpoints
// and button states.
//
// A Store holds named collections of schemaless documents. Every backend
// assigns two reserved fields on insert:
//
//   - FieldID ("_id"): an opaque string identifier, stable across updates
//   - FieldSeq ("_seq"): an insertion sequence, strictly increasing within a
//     collection, used to find the latest and the oldest documents
//
// Callers never set reserved fields themselves. Insert ignores them and Update
// keeps the stored values.
//
// Writes are atomic per document. There are no multi-document transactions.
package persistence

import (
	"context"
	"errors"
	"regexp"
)

const (
	// FieldID is the reserved document identifier field.
	FieldID = "_id"
	// FieldSeq is the reserved insertion sequence field.
	FieldSeq = "_seq"
)

// Document is a single schemaless record.
type Document map[string]interface{}

// Copy returns a shallow copy of the document.
func (d Document) Copy() Document {
	if d == nil {
		return nil
	}

	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}

	return out
}

// ID returns the store-assigned identifier or "" if the document was never stored.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)

	return id
}

// Seq returns the store-assigned insertion sequence or 0 if unknown.
func (d Document) Seq() int64 {
	seq, ok := ToFloat(d[FieldSeq])
	if !ok {
		return 0
	}

	return int64(seq)
}

// StripReserved returns a copy of the document without reserved fields.
func (d Document) StripReserved() Document {
	out := d.Copy()
	delete(out, FieldID)
	delete(out, FieldSeq)

	return out
}

// Store is the interface every backend implements.
type Store interface {
	// CreateCollection creates the collection if it does not exist yet.
	CreateCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error

	// Insert stores a new document and returns its assigned id.
	Insert(ctx context.Context, collection string, doc Document) (id string, err error)
	Get(ctx context.Context, collection string, id string) (Document, error)
	// Update replaces the document body. Id and sequence are preserved.
	Update(ctx context.Context, collection string, id string, doc Document) error
	Delete(ctx context.Context, collection string, id string) error
	Find(ctx context.Context, collection string, query Query) ([]Document, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var (
	ErrNotFound = &storeError{msg: "document not found"}
	ErrClosed   = &storeError{msg: "store is closed"}
)

type storeError struct {
	msg string
}

func (e *storeError) Error() string {
	return e.msg
}

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateCollectionName rejects names that cannot be used verbatim as SQL identifiers.
func ValidateCollectionName(name string) error {
	if name == "" {
		return errors.New("invalid collection name: cannot be empty")
	}

	if !collectionNamePattern.MatchString(name) {
		return errors.New("invalid collection name: must contain only alphanumeric characters and underscores, and must start with a letter or underscore")
	}

	return nil
}
