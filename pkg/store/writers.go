package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/model"
)

// ErrorEntry is one row of the errors table.
type ErrorEntry struct {
	Time    time.Time
	Message string
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AddConfigurationEntry creates or replaces the row describing a
// configuration variable. The value is reset to empty and both serials to
// zero.
func (s *Synchronizer) AddConfigurationEntry(ctx context.Context, v model.Variable) error {
	now := s.now().UnixMicro()
	_, err := s.exec(ctx, `REPLACE INTO configuration
		(id, create_ts, value, server_ts, client_ser, server_ser, client_ts,
		 type, enum, compA, compB, compC, compUnits, min, max, perInstance, hidden)
		VALUES (?, ?, '', ?, 0, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Path, now, now, now,
		v.Type, v.EnumString(), v.CompA, v.CompB, v.CompC, v.CompUnits, v.Min, v.Max,
		flag(v.PerInstance), flag(v.Hidden))
	if err != nil {
		return fmt.Errorf("add configuration entry %s: %w", v.Path, err)
	}
	return nil
}

// AddStatusEntry creates or replaces the row describing a status variable.
func (s *Synchronizer) AddStatusEntry(ctx context.Context, v model.Variable) error {
	now := s.now().UnixMicro()
	_, err := s.exec(ctx, `REPLACE INTO status
		(id, create_ts, value, server_ts, server_ser,
		 type, enum, compA, compB, compC, compUnits, min, max, perInstance, hidden)
		VALUES (?, ?, '', ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Path, now, now,
		v.Type, v.EnumString(), v.CompA, v.CompB, v.CompC, v.CompUnits, v.Min, v.Max,
		flag(v.PerInstance), flag(v.Hidden))
	if err != nil {
		return fmt.Errorf("add status entry %s: %w", v.Path, err)
	}
	return nil
}

// AddCommandEntry creates or replaces the row describing a command.
func (s *Synchronizer) AddCommandEntry(ctx context.Context, c model.Command) error {
	now := s.now().UnixMicro()
	_, err := s.exec(ctx, `REPLACE INTO command
		(id, create_ts, client_ts, arg, hasArg, hidden, client_ser)
		VALUES (?, ?, ?, '', ?, ?, 0)`,
		c.Path, now, now, flag(c.HasArg), flag(c.Hidden))
	if err != nil {
		return fmt.Errorf("add command entry %s: %w", c.Path, err)
	}
	return nil
}

// AddError appends a message to the errors table.
func (s *Synchronizer) AddError(ctx context.Context, message string) error {
	_, err := s.exec(ctx, `INSERT INTO errors (time, message) VALUES (?, ?)`,
		s.now().UnixMicro(), message)
	if err != nil {
		return fmt.Errorf("add error: %w", err)
	}
	s.logRow(log.DirectionOut, TableErrors, "", message, 0, false)
	return nil
}

// UpdateConfiguration sets a configuration value and advances this side's
// timestamp and serial.
func (s *Synchronizer) UpdateConfiguration(ctx context.Context, id, value string) error {
	cols := s.config.Role.SetColumns()
	query := fmt.Sprintf(`UPDATE configuration SET value = ?, %s = ?, %s = %s + 1 WHERE id = ?`,
		cols.Timestamp, cols.Serial, cols.Serial)
	return s.update(ctx, TableConfiguration, query, id, value)
}

// UpdateStatus sets a status value and advances the server columns.
func (s *Synchronizer) UpdateStatus(ctx context.Context, id, value string) error {
	return s.update(ctx, TableStatus,
		`UPDATE status SET value = ?, server_ts = ?, server_ser = server_ser + 1 WHERE id = ?`,
		id, value)
}

// UpdateCommand records a command invocation and advances the client
// columns.
func (s *Synchronizer) UpdateCommand(ctx context.Context, id, arg string) error {
	return s.update(ctx, TableCommand,
		`UPDATE command SET arg = ?, client_ts = ?, client_ser = client_ser + 1 WHERE id = ?`,
		id, arg)
}

func (s *Synchronizer) update(ctx context.Context, table Table, query, id, value string) error {
	res, err := s.exec(ctx, query, value, s.now().UnixMicro(), id)
	if err != nil {
		s.logError("update "+string(table), err)
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}
	s.logRow(log.DirectionOut, table, id, value, 0, false)
	return nil
}

// ClearEntries zeroes the serials: the client serial of commands, both
// serials of configuration and the server serial of status. Each table is
// a separate statement; a failure leaves earlier tables cleared.
func (s *Synchronizer) ClearEntries(ctx context.Context) error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	for _, stmt := range []string{
		`UPDATE command SET client_ser = 0`,
		`UPDATE configuration SET client_ser = 0, server_ser = 0`,
		`UPDATE status SET server_ser = 0`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}
	}
	return nil
}

// DelOldEntries deletes command, configuration and status rows created
// more than Retention ago, and returns how many were removed.
func (s *Synchronizer) DelOldEntries(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.Retention).UnixMicro()

	var total int64
	for _, t := range []Table{TableCommand, TableConfiguration, TableStatus} {
		res, err := s.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE create_ts < ?`, t), cutoff)
		if err != nil {
			return total, fmt.Errorf("delete old %s entries: %w", t, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	if total > 0 {
		s.debugLog("deleted old entries", "count", total, "retention", s.config.Retention)
	}
	return total, nil
}

// Errors returns the error messages logged at or after since, oldest first.
func (s *Synchronizer) Errors(ctx context.Context, since time.Time) ([]ErrorEntry, error) {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT time, message FROM errors WHERE time >= ? ORDER BY time`, since.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("read errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorEntry
	for rows.Next() {
		var ts int64
		var e ErrorEntry
		if err := rows.Scan(&ts, &e.Message); err != nil {
			return nil, fmt.Errorf("read errors: %w", err)
		}
		e.Time = time.UnixMicro(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
