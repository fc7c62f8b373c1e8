// Copyright 2025 Praxis Works
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

// Package store persists the orchestration entities over database/sql.
// PostgreSQL, MySQL, and SQLite are supported through one schema and
// dialect-rebound placeholders.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/praxisworks/praxis/pkg/config"
)

// Store wraps the shared connection pool.
type Store struct {
	db      *sql.DB
	dialect string
	crypto  *Crypto
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS contexts (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    type VARCHAR(50) NOT NULL,
    owner VARCHAR(255),
    default_cwd TEXT,
    pinned_files TEXT,
    members TEXT,
    config TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    platform VARCHAR(100) NOT NULL,
    platform_id VARCHAR(255) NOT NULL,
    metadata TEXT,
    suspension TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_context ON conversations(context_id);
CREATE INDEX IF NOT EXISTS idx_conversations_platform ON conversations(platform, platform_id);

CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(20) NOT NULL,
    content TEXT,
    tool_calls TEXT,
    trace_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_trace ON messages(trace_id);

CREATE TABLE IF NOT EXISTS tool_permissions (
    context_id VARCHAR(255) NOT NULL,
    tool_name VARCHAR(255) NOT NULL,
    allowed BOOLEAN NOT NULL,
    PRIMARY KEY (context_id, tool_name)
);

CREATE TABLE IF NOT EXISTS oauth_tokens (
    context_id VARCHAR(255) NOT NULL,
    provider VARCHAR(100) NOT NULL,
    encrypted_access TEXT NOT NULL,
    encrypted_refresh TEXT,
    expires_at TIMESTAMP,
    user_id VARCHAR(255),
    PRIMARY KEY (context_id, provider)
);

CREATE TABLE IF NOT EXISTS user_credentials (
    user_id VARCHAR(255) NOT NULL,
    credential_type VARCHAR(100) NOT NULL,
    encrypted_value TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, credential_type)
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
    context_id VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    cron VARCHAR(100) NOT NULL,
    skill_prompt TEXT NOT NULL,
    notify_channel VARCHAR(100),
    notify_target VARCHAR(255),
    enabled BOOLEAN NOT NULL,
    run_count INTEGER NOT NULL DEFAULT 0,
    failure_count INTEGER NOT NULL DEFAULT 0,
    last_run_at TIMESTAMP,
    next_run_at TIMESTAMP,
    PRIMARY KEY (context_id, name)
);

CREATE TABLE IF NOT EXISTS prices (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    product VARCHAR(255) NOT NULL,
    price DOUBLE PRECISION NOT NULL,
    currency VARCHAR(10) NOT NULL,
    observed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prices_product ON prices(context_id, product, observed_at);
`

// Open connects, pings, and migrates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, crypto *Crypto) (*Store, error) {
	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, dialect: cfg.Driver, crypto: crypto}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders into $N for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB exposes the underlying pool for transactional callers.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }
