package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcedaq/daqlink-go/internal/safecall"
	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
	"github.com/rcedaq/daqlink-go/pkg/model"
)

// Row is one polled row. Value holds the arg column for commands.
type Row struct {
	Table   Table
	ID      string
	Value   string
	Created time.Time

	// Updated and Serial come from the columns the other side writes.
	Updated time.Time
	Serial  int64

	// Descriptive columns of configuration and status rows.
	Type        string
	Enums       []string
	CompA       string
	CompB       string
	CompC       string
	CompUnits   string
	Min         string
	Max         string
	PerInstance bool

	HasArg bool
	Hidden bool
}

// Variable converts a configuration or status row to its model form.
func (r Row) Variable() model.Variable {
	return model.Variable{
		Path:        r.ID,
		Kind:        model.KindForType(r.Type),
		Type:        r.Type,
		Enums:       r.Enums,
		CompA:       r.CompA,
		CompB:       r.CompB,
		CompC:       r.CompC,
		CompUnits:   r.CompUnits,
		Min:         r.Min,
		Max:         r.Max,
		PerInstance: r.PerInstance,
		Hidden:      r.Hidden,
	}
}

// Command converts a command row to its model form.
func (r Row) Command() model.Command {
	return model.Command{Path: r.ID, HasArg: r.HasArg, Hidden: r.Hidden}
}

// PollFunc receives rows whose serial advanced.
type PollFunc func(Row) error

// PollStats summarizes one PollOnce.
type PollStats struct {
	Rows           int
	Dispatched     int
	CallbackErrors int
}

type tableState struct {
	callbacks []PollFunc

	// lastSeen is the query time of the last poll that returned rows.
	lastSeen time.Time
	serials  map[string]int64
}

// AddPollCallback registers fn for rows of table. Polling starts with the
// first callback; earlier rows are delivered on the first poll.
func (s *Synchronizer) AddPollCallback(table Table, fn PollFunc) error {
	switch table {
	case TableCommand, TableConfiguration, TableStatus:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if !table.hasColumns(s.config.Role.PollColumns()) {
		return fmt.Errorf("%w: %s as %s", ErrUnsupportedPoll, table, s.config.Role)
	}

	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	st, ok := s.tables[table]
	if !ok {
		st = &tableState{serials: make(map[string]int64)}
		s.tables[table] = st
		s.order = append(s.order, table)
	}
	st.callbacks = append(st.callbacks, fn)
	return nil
}

// AddCommandCallback polls the command table.
func (s *Synchronizer) AddCommandCallback(fn PollFunc) error {
	return s.AddPollCallback(TableCommand, fn)
}

// AddConfigurationCallback polls the configuration table.
func (s *Synchronizer) AddConfigurationCallback(fn PollFunc) error {
	return s.AddPollCallback(TableConfiguration, fn)
}

// AddStatusCallback polls the status table.
func (s *Synchronizer) AddStatusCallback(fn PollFunc) error {
	return s.AddPollCallback(TableStatus, fn)
}

// PollTable returns the rows of table whose poll timestamp is newer than
// since minus the poll overlap, together with the time the query was
// issued. A zero since returns every row.
func (s *Synchronizer) PollTable(ctx context.Context, table Table, since time.Time) ([]Row, time.Time, error) {
	cols := s.config.Role.PollColumns()
	if !table.hasColumns(cols) {
		return nil, time.Time{}, fmt.Errorf("%w: %s as %s", ErrUnsupportedPoll, table, s.config.Role)
	}

	bound := int64(-1)
	if !since.IsZero() {
		bound = since.Add(-s.config.PollOverlap).UnixMicro()
	}

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	queried := s.now()
	rows, err := s.db.QueryContext(ctx, table.pollQuery(cols), bound)
	if err != nil {
		return nil, queried, fmt.Errorf("poll %s: %w", table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(table, rows)
		if err != nil {
			return nil, queried, fmt.Errorf("poll %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, queried, fmt.Errorf("poll %s: %w", table, err)
	}
	return out, queried, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(table Table, sc scanner) (Row, error) {
	r := Row{Table: table}
	var created, updated, perInstance, hasArg, hidden int64
	var enums string
	var err error
	if table == TableCommand {
		err = sc.Scan(&r.ID, &created, &r.Value, &hasArg, &hidden, &updated, &r.Serial)
	} else {
		err = sc.Scan(&r.ID, &created, &r.Value, &r.Type, &enums, &r.CompA, &r.CompB, &r.CompC,
			&r.CompUnits, &r.Min, &r.Max, &perInstance, &hidden, &updated, &r.Serial)
	}
	if err != nil {
		return Row{}, err
	}
	r.Created = time.UnixMicro(created)
	r.Updated = time.UnixMicro(updated)
	r.Enums = model.SplitEnums(enums)
	r.PerInstance = perInstance != 0
	r.HasArg = hasArg != 0
	r.Hidden = hidden != 0
	return r, nil
}

// PollOnce polls every table that has callbacks. A row is dispatched when
// its serial is greater than the one cached for it (zero when unseen); the
// cache always takes the polled serial. Callbacks run in registration
// order. A failing or panicking callback is logged and does not stop the
// others. Callbacks must not register callbacks.
func (s *Synchronizer) PollOnce(ctx context.Context) (PollStats, error) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	var stats PollStats
	var errs []error
	for _, table := range s.order {
		st := s.tables[table]
		rows, queried, err := s.PollTable(ctx, table, st.lastSeen)
		if err != nil {
			s.logError("poll "+string(table), err)
			errs = append(errs, err)
			continue
		}
		metrics.Polled(string(table))
		stats.Rows += len(rows)

		for _, row := range rows {
			dispatched := row.Serial > st.serials[row.ID]
			if dispatched {
				stats.Dispatched++
				stats.CallbackErrors += s.dispatch(st, row)
				metrics.Dispatched(string(table))
			}
			st.serials[row.ID] = row.Serial
			s.logRow(log.DirectionIn, table, row.ID, row.Value, row.Serial, dispatched)
		}
		if len(rows) > 0 {
			st.lastSeen = queried
		}
	}
	return stats, errors.Join(errs...)
}

func (s *Synchronizer) dispatch(st *tableState, row Row) int {
	failed := 0
	for i, fn := range st.callbacks {
		err := safecall.Call(func() error { return fn(row) })
		if err != nil {
			failed++
			s.warnLog("poll callback failed", "table", row.Table, "id", row.ID, "index", i, "error", err)
		}
	}
	return failed
}

// CachedSerial returns the last serial polled for a row.
func (s *Synchronizer) CachedSerial(table Table, id string) (int64, bool) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	st, ok := s.tables[table]
	if !ok {
		return 0, false
	}
	ser, ok := st.serials[id]
	return ser, ok
}

// LastSeen returns the query time of the last poll of table that returned
// rows, or the zero time.
func (s *Synchronizer) LastSeen(table Table) time.Time {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if st, ok := s.tables[table]; ok {
		return st.lastSeen
	}
	return time.Time{}
}

// Start polls every period in the background until Stop or Close.
func (s *Synchronizer) Start(period time.Duration) error {
	if period <= 0 {
		period = DefaultPollPeriod
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		safecall.Go(func() { s.loop(ctx, period) }, func(p *safecall.PanicError) {
			s.warnLog("poll loop panicked", "error", p, "stack", string(p.Stack))
		})
	}()
	return nil
}

// Stop ends background polling and waits for the loop to exit.
func (s *Synchronizer) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.runMu.Unlock()
	s.wg.Wait()
}

// Running reports whether background polling is active.
func (s *Synchronizer) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Synchronizer) loop(ctx context.Context, period time.Duration) {
	s.debugLog("store poll started", "period", period, "role", s.config.Role)
	defer s.debugLog("store poll stopped")

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := s.PollOnce(ctx); err != nil && ctx.Err() == nil {
			s.warnLog("store poll failed", "error", err)
		}
	}
}
