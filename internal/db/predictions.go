package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rsclarke/flowtriage/internal/flow"
	"github.com/rsclarke/flowtriage/internal/schema"
)

const (
	historyLimit = 100
	recentLimit  = 5
)

// Prediction is the persisted outcome for one flow.
type Prediction struct {
	Label      string
	Confidence float64
}

// Run is one classified capture window, stored as one row per flow.
type Run struct {
	ID             string
	CreatedAt      time.Time
	ConnectionType string
	Duration       int
	Flows          *flow.Table
	Predictions    []Prediction
}

// HistoryEntry is a grouped count of predictions for one run.
type HistoryEntry struct {
	RunID          string
	CreatedAt      time.Time
	ConnectionType string
	Duration       int
	Prediction     string
	Count          int
}

// Range bounds a history query. Zero times are open ends.
type Range struct {
	Start time.Time
	End   time.Time
}

// Record is a single stored flow prediction as reported by Status.
type Record struct {
	RunID          string
	CreatedAt      time.Time
	ConnectionType string
	Duration       int
	Prediction     string
	Confidence     float64
}

// Status summarizes the store's health and contents.
type Status struct {
	Dialect      Dialect
	TotalRecords int64
	Distribution map[string]int64
	Recent       []Record
}

// Store reads and writes flow predictions.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Dialect() Dialect { return s.dialect }

func insertColumns() []string {
	cols := []string{"run_id", "created_at", "connection_type", "duration"}
	for _, f := range schema.Fields() {
		cols = append(cols, f.Column)
	}
	return append(cols, "prediction", "confidence")
}

func insertQuery(d Dialect) string {
	cols := insertColumns()
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return d.Rebind(fmt.Sprintf("INSERT INTO flow_predictions (%s) VALUES (%s)",
		strings.Join(cols, ", "), marks))
}

// SaveRun inserts every flow of run in a single transaction.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.Flows == nil {
		return errors.New("run has no flow table")
	}
	if run.Flows.Len() != len(run.Predictions) {
		return fmt.Errorf("run has %d flows but %d predictions", run.Flows.Len(), len(run.Predictions))
	}
	if len(run.Predictions) == 0 {
		return nil
	}

	fields := schema.Fields()
	columns := make([]*flow.Column, len(fields))
	for i, f := range fields {
		columns[i], _ = run.Flows.Column(f.Name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertQuery(s.dialect))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	created := run.CreatedAt.Unix()
	args := make([]any, 0, len(fields)+6)
	for i, p := range run.Predictions {
		args = append(args[:0], run.ID, created, run.ConnectionType, run.Duration)
		for _, c := range columns {
			args = append(args, cellValue(c, i))
		}
		args = append(args, p.Label, p.Confidence)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert flow %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func cellValue(c *flow.Column, i int) any {
	if c == nil {
		return nil
	}
	if c.Kind == flow.Text {
		return c.Strings[i]
	}
	v := c.Numbers[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// History returns prediction counts grouped per run, newest first.
func (s *Store) History(ctx context.Context, r Range) ([]HistoryEntry, error) {
	query := `SELECT run_id, created_at, connection_type, duration, prediction, COUNT(*)
		FROM flow_predictions`
	var (
		filters []string
		args    []any
	)
	if !r.Start.IsZero() {
		filters = append(filters, "created_at >= ?")
		args = append(args, r.Start.Unix())
	}
	if !r.End.IsZero() {
		filters = append(filters, "created_at <= ?")
		args = append(args, r.End.Unix())
	}
	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	query += " GROUP BY run_id, created_at, connection_type, duration, prediction"
	query += fmt.Sprintf(" ORDER BY created_at DESC, prediction LIMIT %d", historyLimit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e       HistoryEntry
			created int64
		)
		if err := rows.Scan(&e.RunID, &created, &e.ConnectionType, &e.Duration, &e.Prediction, &e.Count); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Status probes connectivity and reports the row count, prediction
// distribution and most recent rows.
func (s *Store) Status(ctx context.Context) (*Status, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	st := &Status{Dialect: s.dialect, Distribution: make(map[string]int64)}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flow_predictions").Scan(&st.TotalRecords); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT prediction, COUNT(*) FROM flow_predictions GROUP BY prediction")
	if err != nil {
		return nil, fmt.Errorf("distribution: %w", err)
	}
	for rows.Next() {
		var (
			label string
			n     int64
		)
		if err := rows.Scan(&label, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.Distribution[label] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	recent, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT run_id, created_at, connection_type, duration, prediction, confidence
		FROM flow_predictions ORDER BY created_at DESC, id DESC LIMIT %d`, recentLimit))
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer recent.Close()
	for recent.Next() {
		var (
			r       Record
			created int64
		)
		if err := recent.Scan(&r.RunID, &created, &r.ConnectionType, &r.Duration, &r.Prediction, &r.Confidence); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(created, 0).UTC()
		st.Recent = append(st.Recent, r)
	}
	return st, recent.Err()
}
