/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Durable storage for obligations and alerts. In production the same
  layout applies to PostgreSQL with minor dialect changes.

KEY TABLES:
  obligations:  One row per obligation. Installments are embedded as an
                ordered JSON array (installments_json) so an obligation and
                its installments are always read and written as one record.
  alerts:       One row per alert. No foreign key to obligations: deleting
                an obligation keeps its alerts as an audit trail.

INDEXES:
  - idx_obligations_student / idx_obligations_formation: list filters
  - idx_alerts_student: "my alerts"
  - idx_alerts_dedup (UNIQUE, partial): one sweep alert per dedup key

WHAT IS NOT STORED:
  Status. It is derived on read (billing/status.go), so there is no column
  that could go stale.

ENCODING:
  Amounts:     decimal strings ("100.33"), never REAL
  Dates:       YYYY-MM-DD
  Timestamps:  RFC3339Nano, UTC

CONCURRENCY:
  sync.RWMutex around every statement, as in single-file SQLite a single
  writer is the rule anyway. Per-obligation exclusion for read-modify-write
  lives in the billing.Service locker, not here.

USAGE:
  store, err := sqlite.New("./data/tuition.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  svc := billing.NewService(store)

SEE ALSO:
  - billing/store.go: Interface definition
  - billing/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/tuition-engine/billing"
)

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ billing.Store    = (*Store)(nil)
	_ billing.Resetter = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection (readiness probe).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		formation_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		plan_type TEXT NOT NULL,
		due_date TEXT,
		description TEXT,
		installments_json TEXT NOT NULL DEFAULT '[]',
		paid_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_obligations_student
		ON obligations(student_id);
	CREATE INDEX IF NOT EXISTS idx_obligations_formation
		ON obligations(formation_id);
	CREATE INDEX IF NOT EXISTS idx_obligations_created
		ON obligations(created_at, id);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		formation_id TEXT,
		obligation_id TEXT,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		read_status TEXT NOT NULL DEFAULT 'unread',
		read_at TEXT,
		dedup_key TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_student
		ON alerts(student_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_obligation
		ON alerts(obligation_id) WHERE obligation_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_dedup
		ON alerts(dedup_key) WHERE dedup_key IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

// installmentRecord is the JSON shape of one embedded installment.
type installmentRecord struct {
	Index   int    `json:"index"`
	Amount  string `json:"amount"`
	DueDate string `json:"due_date"`
	PaidAt  string `json:"paid_at,omitempty"`
}

const obligationColumns = `id, student_id, formation_id, total_amount, plan_type, due_date,
	description, installments_json, paid_at, created_at, updated_at`

// CreateObligation inserts a new obligation.
func (s *Store) CreateObligation(ctx context.Context, ob billing.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args, err := obligationArgs(ob)
	if err != nil {
		return err
	}
	query := `INSERT INTO obligations (` + obligationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert obligation: %w", err)
	}
	return nil
}

// GetObligation loads one obligation.
func (s *Store) GetObligation(ctx context.Context, id billing.ObligationID) (billing.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+obligationColumns+` FROM obligations WHERE id = ?`, id)
	ob, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Obligation{}, &billing.NotFoundError{Kind: "obligation", ID: string(id)}
	}
	return ob, err
}

// SaveObligation replaces the whole record in one transaction.
func (s *Store) SaveObligation(ctx context.Context, ob billing.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args, err := obligationArgs(ob)
	if err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	// id first in args; the UPDATE takes it last.
	res, err := sqlTx.ExecContext(ctx, `
		UPDATE obligations SET
			student_id = ?, formation_id = ?, total_amount = ?, plan_type = ?, due_date = ?,
			description = ?, installments_json = ?, paid_at = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, append(args[1:], args[0])...)
	if err != nil {
		return fmt.Errorf("failed to update obligation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update obligation: %w", err)
	}
	if n == 0 {
		return &billing.NotFoundError{Kind: "obligation", ID: string(ob.ID)}
	}
	return sqlTx.Commit()
}

// DeleteObligation removes an obligation. Alerts are untouched.
func (s *Store) DeleteObligation(ctx context.Context, id billing.ObligationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM obligations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete obligation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &billing.NotFoundError{Kind: "obligation", ID: string(id)}
	}
	return nil
}

// ListObligations returns obligations ordered by creation.
func (s *Store) ListObligations(ctx context.Context, filter billing.ObligationFilter) ([]billing.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.FormationID != "" {
		where = append(where, "formation_id = ?")
		args = append(args, filter.FormationID)
	}

	query := `SELECT ` + obligationColumns + ` FROM obligations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer rows.Close()

	obligations := make([]billing.Obligation, 0)
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, ob)
	}
	return obligations, rows.Err()
}

func obligationArgs(ob billing.Obligation) ([]any, error) {
	records := make([]installmentRecord, len(ob.Installments))
	for i, inst := range ob.Installments {
		records[i] = installmentRecord{
			Index:   inst.Index,
			Amount:  inst.Amount.Value.String(),
			DueDate: inst.DueDate.String(),
			PaidAt:  formatTimePtr(inst.PaidAt),
		}
	}
	installmentsJSON, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode installments: %w", err)
	}

	var dueDate sql.NullString
	if ob.DueDate != nil {
		dueDate = nullString(ob.DueDate.String())
	}

	return []any{
		ob.ID,
		ob.StudentID,
		ob.FormationID,
		ob.TotalAmount.Value.String(),
		ob.PlanType,
		dueDate,
		nullString(ob.Description),
		string(installmentsJSON),
		nullString(formatTimePtr(ob.PaidAt)),
		formatTime(ob.CreatedAt),
		formatTime(ob.UpdatedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObligation(row scanner) (billing.Obligation, error) {
	var (
		ob               billing.Obligation
		totalAmount      string
		dueDate          sql.NullString
		description      sql.NullString
		installmentsJSON string
		paidAt           sql.NullString
		createdAt        string
		updatedAt        string
	)

	err := row.Scan(
		&ob.ID, &ob.StudentID, &ob.FormationID, &totalAmount, &ob.PlanType, &dueDate,
		&description, &installmentsJSON, &paidAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ob, err
		}
		return ob, fmt.Errorf("failed to scan obligation: %w", err)
	}

	if ob.TotalAmount, err = billing.NewMoney(totalAmount); err != nil {
		return ob, fmt.Errorf("obligation %s: %w", ob.ID, err)
	}
	if dueDate.Valid {
		d, err := billing.ParseDate(dueDate.String)
		if err != nil {
			return ob, fmt.Errorf("obligation %s: %w", ob.ID, err)
		}
		ob.DueDate = &d
	}
	ob.Description = description.String
	ob.PaidAt = parseTimePtr(paidAt.String)
	ob.CreatedAt = parseTime(createdAt)
	ob.UpdatedAt = parseTime(updatedAt)

	var records []installmentRecord
	if err := json.Unmarshal([]byte(installmentsJSON), &records); err != nil {
		return ob, fmt.Errorf("obligation %s: failed to decode installments: %w", ob.ID, err)
	}
	for _, r := range records {
		amount, err := billing.NewMoney(r.Amount)
		if err != nil {
			return ob, fmt.Errorf("obligation %s installment %d: %w", ob.ID, r.Index, err)
		}
		due, err := billing.ParseDate(r.DueDate)
		if err != nil {
			return ob, fmt.Errorf("obligation %s installment %d: %w", ob.ID, r.Index, err)
		}
		ob.Installments = append(ob.Installments, billing.Installment{
			Index:   r.Index,
			Amount:  amount,
			DueDate: due,
			PaidAt:  parseTimePtr(r.PaidAt),
		})
	}
	return ob, nil
}

// =============================================================================
// ALERTS
// =============================================================================

const alertColumns = `id, student_id, formation_id, obligation_id, kind, message,
	read_status, read_at, dedup_key, created_at`

// CreateAlert inserts an alert. A taken dedup key yields billing.ErrDuplicateAlert.
func (s *Store) CreateAlert(ctx context.Context, a billing.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.StudentID,
		nullString(string(a.FormationID)),
		nullString(string(a.ObligationID)),
		a.Kind,
		a.Message,
		a.ReadStatus,
		nullString(formatTimePtr(a.ReadAt)),
		nullString(a.DedupKey),
		formatTime(a.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "dedup_key") {
			return billing.ErrDuplicateAlert
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlert loads one alert.
func (s *Store) GetAlert(ctx context.Context, id billing.AlertID) (billing.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Alert{}, &billing.NotFoundError{Kind: "alert", ID: string(id)}
	}
	return a, err
}

// SaveAlert updates the mutable fields (read state) of an alert.
func (s *Store) SaveAlert(ctx context.Context, a billing.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET read_status = ?, read_at = ?, message = ? WHERE id = ?`,
		a.ReadStatus, nullString(formatTimePtr(a.ReadAt)), a.Message, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &billing.NotFoundError{Kind: "alert", ID: string(a.ID)}
	}
	return nil
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, filter billing.AlertFilter) ([]billing.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.ObligationID != "" {
		where = append(where, "obligation_id = ?")
		args = append(args, filter.ObligationID)
	}
	if filter.UnreadOnly {
		where = append(where, "read_status = ?")
		args = append(args, billing.Unread)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]billing.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AlertExists checks whether a dedup key was used.
func (s *Store) AlertExists(ctx context.Context, dedupKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alerts WHERE dedup_key = ?", dedupKey,
	).Scan(&count)
	return count > 0, err
}

func scanAlert(row scanner) (billing.Alert, error) {
	var (
		a            billing.Alert
		formationID  sql.NullString
		obligationID sql.NullString
		readAt       sql.NullString
		dedupKey     sql.NullString
		createdAt    string
	)
	err := row.Scan(&a.ID, &a.StudentID, &formationID, &obligationID, &a.Kind, &a.Message,
		&a.ReadStatus, &readAt, &dedupKey, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.FormationID = billing.FormationID(formationID.String)
	a.ObligationID = billing.ObligationID(obligationID.String)
	a.ReadAt = parseTimePtr(readAt.String)
	a.DedupKey = dedupKey.String
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (demo scenarios only).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"alerts", "obligations"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
