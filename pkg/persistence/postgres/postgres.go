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

// Package postgres stores documents as JSONB rows, one table per collection.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence"
)

// PgxIface is the subset of *pgxpool.Pool the store needs. pgxmock pools
// satisfy it as well.
type PgxIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type postgresStore struct {
	db     PgxIface
	closed atomic.Bool
}

// Connect opens a connection pool for the given postgres:// URI and verifies it.
func Connect(ctx context.Context, uri string) (persistence.Store, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(pool), nil
}

// New wraps an existing pool.
func New(db PgxIface) persistence.Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) CreateCollection(ctx context.Context, name string) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (seq BIGSERIAL PRIMARY KEY, id TEXT NOT NULL UNIQUE, data JSONB NOT NULL)`, name)

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func (s *postgresStore) DropCollection(ctx context.Context, name string) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS `+name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	return nil
}

func (s *postgresStore) Insert(ctx context.Context, collection string, doc persistence.Document) (string, error) {
	if s.closed.Load() {
		return "", persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return "", err
	}

	data, err := json.Marshal(doc.StripReserved())
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	id := uuid.New().String()
	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2)`, collection)

	if _, err := s.db.Exec(ctx, query, id, data); err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return id, nil
}

func (s *postgresStore) Get(ctx context.Context, collection string, id string) (persistence.Document, error) {
	if s.closed.Load() {
		return nil, persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT seq, data FROM %s WHERE id = $1`, collection)

	var (
		seq  int64
		data []byte
	)

	if err := s.db.QueryRow(ctx, query, id).Scan(&seq, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}

		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return decodeDocument(seq, id, data)
}

func (s *postgresStore) Update(ctx context.Context, collection string, id string, doc persistence.Document) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return err
	}

	data, err := json.Marshal(doc.StripReserved())
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET data = $1 WHERE id = $2`, collection)

	tag, err := s.db.Exec(ctx, query, data, id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

func (s *postgresStore) Delete(ctx context.Context, collection string, id string) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, collection)

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

// Find pushes sequence-only queries down to SQL and evaluates everything
// else in memory.
func (s *postgresStore) Find(ctx context.Context, collection string, query persistence.Query) ([]persistence.Document, error) {
	if s.closed.Load() {
		return nil, persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	pushDown := query.OrdersBySeqOnly()

	sqlQuery := `SELECT seq, id, data FROM ` + collection + ` ORDER BY seq`
	args := []any{}

	if pushDown {
		if query.SeqOrder() == persistence.Desc {
			sqlQuery += ` DESC`
		}

		if limit := query.EffectiveLimit(); limit > 0 {
			args = append(args, limit)
			sqlQuery += fmt.Sprintf(` LIMIT $%d`, len(args))
		}

		if query.SkipCount > 0 {
			args = append(args, query.SkipCount)
			sqlQuery += fmt.Sprintf(` OFFSET $%d`, len(args))
		}
	}

	rows, err := s.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	defer rows.Close()

	documents := []persistence.Document{}

	for rows.Next() {
		var (
			seq  int64
			id   string
			data []byte
		)

		if err := rows.Scan(&seq, &id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		doc, err := decodeDocument(seq, id, data)
		if err != nil {
			return nil, err
		}

		documents = append(documents, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if pushDown {
		return documents, nil
	}

	return persistence.Apply(documents, query), nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	return s.db.Ping(ctx)
}

func (s *postgresStore) Close(_ context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return errors.New("store already closed")
	}

	s.db.Close()

	return nil
}

func decodeDocument(seq int64, id string, data []byte) (persistence.Document, error) {
	var doc persistence.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	if doc == nil {
		doc = persistence.Document{}
	}

	doc[persistence.FieldID] = id
	doc[persistence.FieldSeq] = seq

	return doc, nil
}
