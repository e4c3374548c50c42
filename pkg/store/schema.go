package store

import (
	"context"
	"fmt"
)

// Table names a synchronized table.
type Table string

// Tables.
const (
	TableCommand       Table = "command"
	TableConfiguration Table = "configuration"
	TableStatus        Table = "status"
	TableErrors        Table = "errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS command (
		id         TEXT PRIMARY KEY,
		create_ts  INTEGER NOT NULL DEFAULT 0,
		client_ts  INTEGER NOT NULL DEFAULT 0,
		arg        TEXT NOT NULL DEFAULT '',
		hasArg     INTEGER NOT NULL DEFAULT 0,
		hidden     INTEGER NOT NULL DEFAULT 0,
		client_ser INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS configuration (
		id          TEXT PRIMARY KEY,
		create_ts   INTEGER NOT NULL DEFAULT 0,
		value       TEXT NOT NULL DEFAULT '',
		server_ts   INTEGER NOT NULL DEFAULT 0,
		client_ser  INTEGER NOT NULL DEFAULT 0,
		server_ser  INTEGER NOT NULL DEFAULT 0,
		client_ts   INTEGER NOT NULL DEFAULT 0,
		type        TEXT NOT NULL DEFAULT '',
		enum        TEXT NOT NULL DEFAULT '',
		compA       TEXT NOT NULL DEFAULT '',
		compB       TEXT NOT NULL DEFAULT '',
		compC       TEXT NOT NULL DEFAULT '',
		compUnits   TEXT NOT NULL DEFAULT '',
		min         TEXT NOT NULL DEFAULT '',
		max         TEXT NOT NULL DEFAULT '',
		perInstance INTEGER NOT NULL DEFAULT 0,
		hidden      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS status (
		id          TEXT PRIMARY KEY,
		create_ts   INTEGER NOT NULL DEFAULT 0,
		value       TEXT NOT NULL DEFAULT '',
		server_ts   INTEGER NOT NULL DEFAULT 0,
		server_ser  INTEGER NOT NULL DEFAULT 0,
		type        TEXT NOT NULL DEFAULT '',
		enum        TEXT NOT NULL DEFAULT '',
		compA       TEXT NOT NULL DEFAULT '',
		compB       TEXT NOT NULL DEFAULT '',
		compC       TEXT NOT NULL DEFAULT '',
		compUnits   TEXT NOT NULL DEFAULT '',
		min         TEXT NOT NULL DEFAULT '',
		max         TEXT NOT NULL DEFAULT '',
		perInstance INTEGER NOT NULL DEFAULT 0,
		hidden      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS errors (
		time    INTEGER NOT NULL,
		message TEXT NOT NULL
	)`,
}

// variableColumns are the descriptive columns shared by configuration and
// status rows.
const variableColumns = "value, type, enum, compA, compB, compC, compUnits, min, max, perInstance, hidden"

// hasColumns reports whether table carries the given timestamp/serial pair.
// command only has client columns and status only server columns.
func (t Table) hasColumns(c Columns) bool {
	switch t {
	case TableConfiguration:
		return true
	case TableCommand:
		return c == clientColumns
	case TableStatus:
		return c == serverColumns
	default:
		return false
	}
}

// pollQuery builds the select for one poll of t using the role's poll
// columns. The single argument is the lower timestamp bound. Rows come
// back in write order.
func (t Table) pollQuery(c Columns) string {
	var cols string
	switch t {
	case TableCommand:
		cols = "id, create_ts, arg, hasArg, hidden"
	default:
		cols = "id, create_ts, " + variableColumns
	}
	return fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s > ? ORDER BY %s, id",
		cols, c.Timestamp, c.Serial, t, c.Timestamp, c.Timestamp)
}

// EnsureSchema creates any missing tables.
func (s *Synchronizer) EnsureSchema(ctx context.Context) error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
