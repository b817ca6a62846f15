// Package sql implements keystore.Store against a relational database via
// database/sql, supporting both PostgreSQL (github.com/lib/pq) and MySQL
// (github.com/go-sql-driver/mysql) through the same SQL, parameterized
// with the placeholder style each driver expects. This is the backend a
// multi-node Core deployment uses so every instance observes the same key
// state.
package sql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/systmms/pqkeys/internal/keystore"
)

// Dialect selects the SQL placeholder style and the column types that
// differ between the two databases (auto-increment ids, binary and key
// columns).
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Store is a database/sql-backed keystore.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database identified by dsn using the named driver
// ("postgres" or "mysql") and ensures the schema exists.
func Open(dialect Dialect, dsn string) (*Store, error) {
	driverName := string(dialect)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql keystore: open %s: %w", dialect, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sql keystore: ping %s: %w", dialect, err)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an already-open *sql.DB, used by tests with
// DATA-DOG/go-sqlmock and by callers that manage their own connection
// pool lifecycle.
func NewFromDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pqkeys_keys (
			key_id TEXT PRIMARY KEY,
			algorithm TEXT NOT NULL,
			purpose TEXT NOT NULL,
			state TEXT NOT NULL,
			protector_name TEXT NOT NULL,
			public_key BYTEA,
			protected_blob BYTEA,
			generation INTEGER NOT NULL DEFAULT 1,
			predecessor_id TEXT,
			created_at TIMESTAMP NOT NULL,
			rotated_at TIMESTAMP,
			expires_at TIMESTAMP,
			revoked_at TIMESTAMP,
			revoked_reason TEXT,
			tags TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pqkeys_usage (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			key_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			actor TEXT,
			ts TIMESTAMP NOT NULL,
			success BOOLEAN NOT NULL,
			detail TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS pqkeys_rotation (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			key_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			successor_id TEXT,
			reason TEXT,
			actor TEXT,
			ts TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pqkeys_security_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			event_id TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT,
			key_id TEXT,
			ts TIMESTAMP NOT NULL,
			extra TEXT
		)`,
	}
	if s.dialect == Postgres {
		stmts[1] = strings.Replace(stmts[1], "BIGINT AUTO_INCREMENT PRIMARY KEY", "BIGSERIAL PRIMARY KEY", 1)
		stmts[2] = strings.Replace(stmts[2], "BIGINT AUTO_INCREMENT PRIMARY KEY", "BIGSERIAL PRIMARY KEY", 1)
		stmts[3] = strings.Replace(stmts[3], "BIGINT AUTO_INCREMENT PRIMARY KEY", "BIGSERIAL PRIMARY KEY", 1)
	}
	if s.dialect == MySQL {
		stmts[0] = strings.Replace(stmts[0], "key_id TEXT PRIMARY KEY", "key_id VARCHAR(64) PRIMARY KEY", 1)
		stmts[0] = strings.ReplaceAll(stmts[0], "BYTEA", "BLOB")
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sql keystore: create schema: %w", err)
		}
	}
	return nil
}

// ph returns the positional placeholder for argument n (1-based) in this
// dialect: Postgres uses $1, $2...; MySQL uses ? regardless of position.
func (s *Store) ph(n int) string {
	if s.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(query string, args ...interface{}) (sql.Result, error) {
	return s.db.Exec(s.rebind(query), args...)
}

func (s *Store) query(query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.Query(s.rebind(query), args...)
}

func (s *Store) queryRow(query string, args ...interface{}) *sql.Row {
	return s.db.QueryRow(s.rebind(query), args...)
}

func encodeTags(tags map[string]string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTags(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func (s *Store) Insert(rec *keystore.Record) error {
	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return fmt.Errorf("sql keystore: encode tags: %w", err)
	}
	_, err = s.exec(
		`INSERT INTO pqkeys_keys
		 (key_id, algorithm, purpose, state, protector_name, public_key, protected_blob,
		  generation, predecessor_id, created_at, rotated_at, expires_at, revoked_at, revoked_reason, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.KeyID, rec.Algorithm, rec.Purpose, string(rec.State), rec.ProtectorName, rec.PublicKey, rec.ProtectedBlob,
		rec.Generation, rec.PredecessorID, rec.CreatedAt, nullTime(rec.RotatedAt), nullTime(rec.ExpiresAt), nullTime(rec.RevokedAt), rec.RevokedReason, tags,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return keystore.ErrAlreadyExists
		}
		return fmt.Errorf("sql keystore: insert: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	s := err.Error()
	return strings.Contains(s, "duplicate") || strings.Contains(s, "unique") || strings.Contains(s, "UNIQUE")
}

func (s *Store) scanRecord(row interface {
	Scan(dest ...interface{}) error
}) (*keystore.Record, error) {
	var rec keystore.Record
	var state string
	var rotatedAt, expiresAt, revokedAt sql.NullTime
	var tags sql.NullString

	err := row.Scan(
		&rec.KeyID, &rec.Algorithm, &rec.Purpose, &state, &rec.ProtectorName, &rec.PublicKey, &rec.ProtectedBlob,
		&rec.Generation, &rec.PredecessorID, &rec.CreatedAt, &rotatedAt, &expiresAt, &revokedAt, &rec.RevokedReason, &tags,
	)
	if err != nil {
		return nil, err
	}
	rec.State = keystore.State(state)
	if rotatedAt.Valid {
		rec.RotatedAt = rotatedAt.Time
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	if revokedAt.Valid {
		rec.RevokedAt = revokedAt.Time
	}
	rec.Tags, err = decodeTags(tags)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

const selectColumns = `key_id, algorithm, purpose, state, protector_name, public_key, protected_blob,
	generation, predecessor_id, created_at, rotated_at, expires_at, revoked_at, revoked_reason, tags`

func (s *Store) Get(id string) (*keystore.Record, error) {
	row := s.queryRow(`SELECT `+selectColumns+` FROM pqkeys_keys WHERE key_id = ?`, id)
	rec, err := s.scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, keystore.ErrNotFound
		}
		return nil, fmt.Errorf("sql keystore: get: %w", err)
	}
	return rec, nil
}

func (s *Store) Update(rec *keystore.Record) error {
	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return fmt.Errorf("sql keystore: encode tags: %w", err)
	}
	res, err := s.exec(
		`UPDATE pqkeys_keys SET
		 algorithm = ?, purpose = ?, state = ?, protector_name = ?, public_key = ?, protected_blob = ?,
		 generation = ?, predecessor_id = ?, rotated_at = ?, expires_at = ?, revoked_at = ?, revoked_reason = ?, tags = ?
		 WHERE key_id = ?`,
		rec.Algorithm, rec.Purpose, string(rec.State), rec.ProtectorName, rec.PublicKey, rec.ProtectedBlob,
		rec.Generation, rec.PredecessorID, nullTime(rec.RotatedAt), nullTime(rec.ExpiresAt), nullTime(rec.RevokedAt), rec.RevokedReason, tags,
		rec.KeyID,
	)
	if err != nil {
		return fmt.Errorf("sql keystore: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sql keystore: rows affected: %w", err)
	}
	if n == 0 {
		return keystore.ErrNotFound
	}
	return nil
}

func (s *Store) listWhere(where string, args ...interface{}) ([]*keystore.Record, error) {
	rows, err := s.query(`SELECT `+selectColumns+` FROM pqkeys_keys WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("sql keystore: list: %w", err)
	}
	defer rows.Close()

	var out []*keystore.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sql keystore: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListActive() ([]*keystore.Record, error) {
	return s.listWhere("state = ?", string(keystore.Active))
}

func (s *Store) ListExpiring(horizon time.Time) ([]*keystore.Record, error) {
	return s.listWhere(
		"state IN (?, ?) AND expires_at IS NOT NULL AND expires_at < ?",
		string(keystore.Active), string(keystore.PendingRotation), horizon,
	)
}

func (s *Store) AppendUsage(ev *keystore.UsageEvent) error {
	_, err := s.exec(
		`INSERT INTO pqkeys_usage (key_id, operation, actor, ts, success, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.KeyID, ev.Operation, ev.Actor, ev.Timestamp, ev.Success, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("sql keystore: append usage: %w", err)
	}
	return nil
}

func (s *Store) AppendRotation(ev *keystore.RotationEvent) error {
	_, err := s.exec(
		`INSERT INTO pqkeys_rotation (key_id, from_state, to_state, successor_id, reason, actor, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.KeyID, string(ev.FromState), string(ev.ToState), ev.SuccessorID, ev.Reason, ev.Actor, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("sql keystore: append rotation: %w", err)
	}
	return nil
}

func (s *Store) UsageHistory(keyID string, limit int) ([]*keystore.UsageEvent, error) {
	q := `SELECT key_id, operation, actor, ts, success, detail FROM pqkeys_usage WHERE key_id = ? ORDER BY ts DESC`
	args := []interface{}{keyID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sql keystore: usage history: %w", err)
	}
	defer rows.Close()

	var out []*keystore.UsageEvent
	for rows.Next() {
		var ev keystore.UsageEvent
		if err := rows.Scan(&ev.KeyID, &ev.Operation, &ev.Actor, &ev.Timestamp, &ev.Success, &ev.Detail); err != nil {
			return nil, fmt.Errorf("sql keystore: scan usage: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) RotationHistory(keyID string, limit int) ([]*keystore.RotationEvent, error) {
	q := `SELECT key_id, from_state, to_state, successor_id, reason, actor, ts FROM pqkeys_rotation WHERE key_id = ? ORDER BY ts DESC`
	args := []interface{}{keyID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sql keystore: rotation history: %w", err)
	}
	defer rows.Close()

	var out []*keystore.RotationEvent
	for rows.Next() {
		var ev keystore.RotationEvent
		var from, to string
		if err := rows.Scan(&ev.KeyID, &from, &to, &ev.SuccessorID, &ev.Reason, &ev.Actor, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("sql keystore: scan rotation: %w", err)
		}
		ev.FromState, ev.ToState = keystore.State(from), keystore.State(to)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) AppendSecurityEvent(ev *keystore.SecurityEvent) error {
	extra, err := encodeTags(ev.Extra)
	if err != nil {
		return fmt.Errorf("sql keystore: encode extra: %w", err)
	}
	_, err = s.exec(
		`INSERT INTO pqkeys_security_events (event_id, type, severity, description, key_id, ts, extra) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.Type, ev.Severity, ev.Description, ev.KeyID, ev.Timestamp, extra,
	)
	if err != nil {
		return fmt.Errorf("sql keystore: append security event: %w", err)
	}
	return nil
}

func (s *Store) SecurityEvents(limit int) ([]*keystore.SecurityEvent, error) {
	q := `SELECT event_id, type, severity, description, key_id, ts, extra FROM pqkeys_security_events ORDER BY ts DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sql keystore: security events: %w", err)
	}
	defer rows.Close()

	var out []*keystore.SecurityEvent
	for rows.Next() {
		var ev keystore.SecurityEvent
		var extra sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.Type, &ev.Severity, &ev.Description, &ev.KeyID, &ev.Timestamp, &extra); err != nil {
			return nil, fmt.Errorf("sql keystore: scan security event: %w", err)
		}
		if ev.Extra, err = decodeTags(extra); err != nil {
			return nil, fmt.Errorf("sql keystore: decode extra: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) Count() (map[keystore.State]int, error) {
	rows, err := s.query(`SELECT state, COUNT(*) FROM pqkeys_keys GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("sql keystore: count: %w", err)
	}
	defer rows.Close()

	counts := map[keystore.State]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("sql keystore: scan count: %w", err)
		}
		counts[keystore.State(state)] = n
	}
	return counts, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
