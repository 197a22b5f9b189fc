// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS outcome_archive (
//   ticket_id    TEXT PRIMARY KEY,
//   app_id       TEXT NOT NULL,
//   status       TEXT NOT NULL,
//   status_code  INT,
//   error        TEXT,
//   recorded_at  TIMESTAMPTZ NOT NULL
// );
// CREATE INDEX IF NOT EXISTS idx_outcome_archive_app_id ON outcome_archive(app_id);

// PostgresSink archives OutcomeEvents for analytics. Writes are
// idempotent upserts keyed by ticket id, since a worker may (rarely)
// publish the same ticket's event more than once.
type PostgresSink struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// NewPostgresSink opens a connection pool against dsn.
func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("gatekeeper/audit: open postgres: %w", err)
	}
	return &PostgresSink{db: db, defaultTimeout: 10 * time.Second}, nil
}

// Publish upserts event into outcome_archive.
func (p *PostgresSink) Publish(ctx context.Context, event OutcomeEvent) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO outcome_archive (ticket_id, app_id, status, status_code, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, to_timestamp($6 / 1000.0))
		ON CONFLICT (ticket_id) DO UPDATE SET
			status = EXCLUDED.status,
			status_code = EXCLUDED.status_code,
			error = EXCLUDED.error,
			recorded_at = EXCLUDED.recorded_at
	`, event.TicketID, event.AppID, event.Status, event.StatusCode, event.Error, event.RecordedAtMs)
	if err != nil {
		return fmt.Errorf("gatekeeper/audit: upsert outcome_archive: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (p *PostgresSink) Close() error {
	return p.db.Close()
}
