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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteStore opens (or creates) the database file at dbPath.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (persistence.Store, error) {
	db, err := sql.Open("sqlite", buildConnectionString(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func buildConnectionString(dbPath string) string {
	if dbPath == ":memory:" {
		return dbPath
	}

	return dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
}

func (s *sqliteStore) CreateCollection(ctx context.Context, name string) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		data BLOB NOT NULL
	)`, name)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func (s *sqliteStore) DropCollection(ctx context.Context, name string) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	return nil
}

func (s *sqliteStore) Insert(ctx context.Context, collection string, doc persistence.Document) (string, error) {
	if s.closed.Load() {
		return "", persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return "", err
	}

	id := uuid.New().String()

	data, err := json.Marshal(doc.StripReserved())
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)`, collection)

	_, err = s.db.ExecContext(ctx, query, id, data)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return id, nil
}

func (s *sqliteStore) Get(ctx context.Context, collection string, id string) (persistence.Document, error) {
	if s.closed.Load() {
		return nil, persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT seq, data FROM %s WHERE id = ?`, collection)

	var (
		seq  int64
		data []byte
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(&seq, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}

		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return decodeDocument(seq, id, data)
}

func (s *sqliteStore) Update(ctx context.Context, collection string, id string, doc persistence.Document) error {
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

	query := fmt.Sprintf(`UPDATE %s SET data = ? WHERE id = ?`, collection)

	result, err := s.db.ExecContext(ctx, query, data, id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, collection string, id string) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, collection)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

// Find pushes sequence-only queries down to SQL and evaluates everything
// else in memory.
func (s *sqliteStore) Find(ctx context.Context, collection string, query persistence.Query) ([]persistence.Document, error) {
	if s.closed.Load() {
		return nil, persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	pushDown := query.OrdersBySeqOnly()

	sqlQuery := `SELECT seq, id, data FROM ` + collection + ` ORDER BY seq`
	args := []interface{}{}

	if pushDown {
		if query.SeqOrder() == persistence.Desc {
			sqlQuery += ` DESC`
		}

		if limit := query.EffectiveLimit(); limit > 0 || query.SkipCount > 0 {
			if limit == 0 {
				limit = -1 // SQLite: no limit
			}

			sqlQuery += ` LIMIT ? OFFSET ?`
			args = append(args, limit, query.SkipCount)
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}

	defer func() { _ = rows.Close() }()

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

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close(_ context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return errors.New("store already closed")
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

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
