/*
Package sqlite provides the SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements engine.UnitStore, engine.RequestStore, and engine.BufferProvider
  using SQLite. The same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

THE CAS, IN SQL:
  ConditionalReserve is a single conditional UPDATE:

    UPDATE units SET reserved = 1, ...
    WHERE id = ? AND reserved = 0 AND assigned_request_id IS NULL

  checked by affected-row count. Two concurrent approvals racing for the
  same unit see exactly one row affected between them; no read-then-write
  window exists.

KEY TABLES:
  units:    Physical inventory with reservation bookkeeping columns
  requests: Hospital requests and their status fields

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block and the single writer serializes the CAS.

USAGE:
  store, err := sqlite.New("./data/bloodbank.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/crossmatch/blood-engine/engine"
)

// Store implements the engine storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

var _ engine.UnitStore = (*Store)(nil)
var _ engine.RequestStore = (*Store)(nil)
var _ engine.BufferProvider = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers, which sqlite wants anyway.
	db.SetMaxOpenConns(1)

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

func (s *Store) migrate() error {
	schema := `
	-- Physical inventory
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		serial_number TEXT NOT NULL UNIQUE,
		blood_type TEXT NOT NULL,
		rh_factor TEXT NOT NULL,
		volume_ml TEXT NOT NULL DEFAULT '0',
		collected_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'valid',
		reserved INTEGER NOT NULL DEFAULT 0,
		reserved_by TEXT,
		reserved_at TEXT,
		assigned_request_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Catalog hot path: group + expiry ordering
	CREATE INDEX IF NOT EXISTS idx_units_group_expiry
		ON units(blood_type, rh_factor, expires_at);
	CREATE INDEX IF NOT EXISTS idx_units_status
		ON units(status);
	CREATE INDEX IF NOT EXISTS idx_units_reserved_by
		ON units(reserved_by) WHERE reserved_by IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_units_assigned
		ON units(assigned_request_id) WHERE assigned_request_id IS NOT NULL;

	-- Hospital requests (never deleted; terminal states are declined/handed_over)
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		hospital TEXT NOT NULL DEFAULT '',
		blood_type TEXT NOT NULL,
		rh_factor TEXT NOT NULL,
		units_requested INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		urgent INTEGER NOT NULL DEFAULT 0,
		when_needed TEXT,
		decline_reason TEXT,
		retry_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_created
		ON requests(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT STORE
// =============================================================================

func (s *Store) QueryUnits(ctx context.Context, filter engine.UnitFilter) ([]engine.BloodUnit, error) {
	var (
		where []string
		args  []any
	)

	if len(filter.Groups) > 0 {
		var pairs []string
		for _, g := range filter.Groups {
			pairs = append(pairs, "(blood_type = ? AND rh_factor = ?)")
			args = append(args, string(g.Type), string(g.Rh))
		}
		where = append(where, "("+strings.Join(pairs, " OR ")+")")
	}
	if len(filter.StatusIn) > 0 {
		placeholders := make([]string, len(filter.StatusIn))
		for i, st := range filter.StatusIn {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if !filter.NotExpiredAsOf.IsZero() {
		where = append(where, "expires_at > ?")
		args = append(args, filter.NotExpiredAsOf.UTC().Format(time.RFC3339))
	}
	if filter.ExcludeReserved {
		where = append(where, "reserved = 0")
	}
	if filter.ExcludeAssigned {
		where = append(where, "assigned_request_id IS NULL")
	}

	query := selectUnits
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY expires_at ASC, id ASC"

	return s.queryUnits(ctx, query, args...)
}

func (s *Store) GetUnit(ctx context.Context, id engine.UnitID) (*engine.BloodUnit, error) {
	units, err := s.queryUnits(ctx, selectUnits+" WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, engine.ErrUnitNotFound
	}
	return &units[0], nil
}

func (s *Store) SaveUnit(ctx context.Context, u engine.BloodUnit) error {
	query := `
		INSERT INTO units
		(id, serial_number, blood_type, rh_factor, volume_ml, collected_at, expires_at,
		 status, reserved, reserved_by, reserved_at, assigned_request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			serial_number = excluded.serial_number,
			blood_type = excluded.blood_type,
			rh_factor = excluded.rh_factor,
			volume_ml = excluded.volume_ml,
			collected_at = excluded.collected_at,
			expires_at = excluded.expires_at,
			status = excluded.status
	`
	_, err := s.db.ExecContext(ctx, query,
		string(u.ID),
		u.SerialNumber,
		string(u.Group.Type),
		string(u.Group.Rh),
		u.VolumeML.String(),
		u.CollectedAt.UTC().Format(time.RFC3339),
		u.ExpiresAt.UTC().Format(time.RFC3339),
		string(u.Status),
		boolToInt(u.Reserved),
		nullString(string(u.ReservedBy)),
		nullTime(u.ReservedAt),
		nullString(string(u.AssignedRequestID)),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}
	return nil
}

// ConditionalReserve performs the CAS as a single conditional update.
// The statement carries every precondition; the affected-row count is the
// only signal of who won the race.
func (s *Store) ConditionalReserve(ctx context.Context, id engine.UnitID, by engine.RequestID, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE units
		SET reserved = 1, reserved_by = ?, reserved_at = ?
		WHERE id = ?
		  AND reserved = 0
		  AND assigned_request_id IS NULL
		  AND status IN ('valid', 'buffer')
	`, string(by), at.UTC().Format(time.RFC3339), string(id))
	if err != nil {
		return false, fmt.Errorf("failed to reserve unit %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// CommitUnits writes per unit, deliberately without a wrapping transaction:
// a partial outcome must remain observable, not rolled back.
func (s *Store) CommitUnits(ctx context.Context, ids []engine.UnitID, requestID engine.RequestID) ([]engine.UnitID, error) {
	var committed []engine.UnitID
	for _, id := range ids {
		result, err := s.db.ExecContext(ctx, `
			UPDATE units
			SET status = 'handed_over', assigned_request_id = ?,
			    reserved = 0, reserved_by = NULL, reserved_at = NULL
			WHERE id = ? AND reserved = 1 AND reserved_by = ?
		`, string(requestID), string(id), string(requestID))
		if err != nil {
			return committed, fmt.Errorf("failed to commit unit %s: %w", id, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return committed, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if rows != 1 {
			return committed, fmt.Errorf("unit %s not reserved by request %s: %w", id, requestID, engine.ErrUnitNotFound)
		}
		committed = append(committed, id)
	}
	return committed, nil
}

func (s *Store) ReleaseUnits(ctx context.Context, ids []engine.UnitID) error {
	for _, id := range ids {
		// Zero rows affected is fine: release is idempotent.
		_, err := s.db.ExecContext(ctx, `
			UPDATE units
			SET reserved = 0, reserved_by = NULL, reserved_at = NULL
			WHERE id = ? AND reserved = 1 AND assigned_request_id IS NULL
		`, string(id))
		if err != nil {
			return fmt.Errorf("failed to release unit %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) UnitsReservedBy(ctx context.Context, requestID engine.RequestID) ([]engine.BloodUnit, error) {
	return s.queryUnits(ctx,
		selectUnits+" WHERE reserved = 1 AND reserved_by = ? ORDER BY expires_at ASC, id ASC",
		string(requestID))
}

func (s *Store) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE units
		SET reserved = 0, reserved_by = NULL, reserved_at = NULL
		WHERE reserved = 1 AND assigned_request_id IS NULL AND reserved_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale reservations: %w", err)
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func (s *Store) MarkExpired(ctx context.Context, asOf time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE units
		SET status = 'expired'
		WHERE status IN ('valid', 'buffer') AND reserved = 0 AND expires_at <= ?
	`, asOf.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired units: %w", err)
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

const selectUnits = `
	SELECT id, serial_number, blood_type, rh_factor, volume_ml, collected_at,
	       expires_at, status, reserved, reserved_by, reserved_at, assigned_request_id
	FROM units`

func (s *Store) queryUnits(ctx context.Context, query string, args ...any) ([]engine.BloodUnit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []engine.BloodUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func scanUnit(rows *sql.Rows) (engine.BloodUnit, error) {
	var (
		u           engine.BloodUnit
		bloodType   string
		rhFactor    string
		volume      string
		collectedAt string
		expiresAt   string
		reserved    int
		reservedBy  sql.NullString
		reservedAt  sql.NullString
		assigned    sql.NullString
	)

	err := rows.Scan(
		&u.ID, &u.SerialNumber, &bloodType, &rhFactor, &volume,
		&collectedAt, &expiresAt, &u.Status, &reserved,
		&reservedBy, &reservedAt, &assigned,
	)
	if err != nil {
		return u, fmt.Errorf("failed to scan unit: %w", err)
	}

	u.Group = engine.BloodGroup{Type: engine.BloodType(bloodType), Rh: engine.RhFactor(rhFactor)}
	u.VolumeML, _ = decimal.NewFromString(volume)
	u.CollectedAt, _ = time.Parse(time.RFC3339, collectedAt)
	u.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	u.Reserved = reserved == 1
	u.ReservedBy = engine.RequestID(reservedBy.String)
	if reservedAt.Valid {
		if t, err := time.Parse(time.RFC3339, reservedAt.String); err == nil {
			u.ReservedAt = &t
		}
	}
	u.AssignedRequestID = engine.RequestID(assigned.String)
	return u, nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const selectRequests = `
	SELECT id, hospital, blood_type, rh_factor, units_requested, status,
	       urgent, when_needed, decline_reason, retry_at, created_at, updated_at
	FROM requests`

func (s *Store) GetRequest(ctx context.Context, id engine.RequestID) (*engine.BloodRequest, error) {
	reqs, err := s.queryRequests(ctx, selectRequests+" WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, engine.ErrRequestNotFound
	}
	return &reqs[0], nil
}

func (s *Store) SaveRequest(ctx context.Context, r engine.BloodRequest) error {
	query := `
		INSERT INTO requests
		(id, hospital, blood_type, rh_factor, units_requested, status, urgent,
		 when_needed, decline_reason, retry_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(r.ID),
		r.Hospital,
		string(r.PatientGroup.Type),
		string(r.PatientGroup.Rh),
		r.UnitsRequested,
		string(r.Status),
		boolToInt(r.Urgent),
		nullTime(r.WhenNeeded),
		nullString(r.DeclineReason),
		nullTime(r.RetryAt),
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id engine.RequestID, status engine.RequestStatus, fields engine.StatusFields) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = ?,
		    decline_reason = COALESCE(?, decline_reason),
		    retry_at = COALESCE(?, retry_at),
		    updated_at = ?
		WHERE id = ?
	`,
		string(status),
		nullString(fields.DeclineReason),
		nullTime(fields.RetryAt),
		time.Now().UTC().Format(time.RFC3339),
		string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return engine.ErrRequestNotFound
	}
	return nil
}

func (s *Store) ListRequests(ctx context.Context, statuses ...engine.RequestStatus) ([]engine.BloodRequest, error) {
	query := selectRequests
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY created_at DESC, id ASC"
	return s.queryRequests(ctx, query, args...)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]engine.BloodRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []engine.BloodRequest
	for rows.Next() {
		var (
			r             engine.BloodRequest
			bloodType     string
			rhFactor      string
			urgent        int
			whenNeeded    sql.NullString
			declineReason sql.NullString
			retryAt       sql.NullString
			createdAt     string
			updatedAt     string
		)
		err := rows.Scan(
			&r.ID, &r.Hospital, &bloodType, &rhFactor, &r.UnitsRequested, &r.Status,
			&urgent, &whenNeeded, &declineReason, &retryAt, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.PatientGroup = engine.BloodGroup{Type: engine.BloodType(bloodType), Rh: engine.RhFactor(rhFactor)}
		r.Urgent = urgent == 1
		r.DeclineReason = declineReason.String
		if whenNeeded.Valid {
			if t, err := time.Parse(time.RFC3339, whenNeeded.String); err == nil {
				r.WhenNeeded = &t
			}
		}
		if retryAt.Valid {
			if t, err := time.Parse(time.RFC3339, retryAt.String); err == nil {
				r.RetryAt = &t
			}
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// BUFFER PROVIDER
// =============================================================================

// GetBufferPool snapshots the units currently flagged as emergency reserve.
func (s *Store) GetBufferPool(ctx context.Context) (*engine.BufferPool, error) {
	units, err := s.QueryUnits(ctx, engine.UnitFilter{StatusIn: []engine.UnitStatus{engine.UnitBuffer}})
	if err != nil {
		return nil, err
	}
	return engine.NewBufferPool(units), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
