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

// Package dial selects a persistence backend from a connection string.
//
//	memory://                     in-process store
//	sqlite:///var/lib/scada.db    SQLite file (sqlite://:memory: for a throwaway db)
//	file:/var/lib/scada.db        SQLite file
//	postgres://user:pw@host/db    PostgreSQL (also postgresql://)
package dial

import (
	"context"
	"fmt"
	"strings"

	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence/postgres"
	"github.com/united-manufacturing-hub/tank-scada/pkg/persistence/sqlite"
)

// Scheme identifies a backend.
type Scheme string

const (
	SchemeMemory   Scheme = "memory"
	SchemeSQLite   Scheme = "sqlite"
	SchemePostgres Scheme = "postgres"
)

// Parse splits a connection string into backend and backend-specific target.
func Parse(uri string) (Scheme, string, error) {
	switch {
	case uri == "":
		return "", "", fmt.Errorf("empty connection string")
	case strings.HasPrefix(uri, "memory://"):
		return SchemeMemory, "", nil
	case strings.HasPrefix(uri, "sqlite://"):
		path := strings.TrimPrefix(uri, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite connection string %q has no path", uri)
		}

		return SchemeSQLite, path, nil
	case strings.HasPrefix(uri, "file:"):
		return SchemeSQLite, strings.TrimPrefix(uri, "file:"), nil
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return SchemePostgres, uri, nil
	default:
		scheme, _, _ := strings.Cut(uri, "://")

		return "", "", fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

// Open connects to the store behind uri.
func Open(ctx context.Context, uri string) (persistence.Store, error) {
	scheme, target, err := Parse(uri)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case SchemeMemory:
		return memory.NewInMemoryStore(), nil
	case SchemeSQLite:
		return sqlite.NewSQLiteStore(target)
	case SchemePostgres:
		return postgres.Connect(ctx, target)
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

// Redact hides credentials of a connection string for logging.
func Redact(uri string) string {
	scheme, rest, found := strings.Cut(uri, "://")
	if !found {
		return uri
	}

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return uri
	}

	return scheme + "://***@" + rest[at+1:]
}
