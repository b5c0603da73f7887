package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"SendLater/internal/models"
)

// SQLiteStore implements Store on an embedded SQLite database. It backs local
// development and the test suites.
type SQLiteStore struct {
	db *sqlx.DB
}

// sqliteRow mirrors the scheduled_emails table; timestamps are unix nanoseconds.
type sqliteRow struct {
	ID            string         `db:"id"`
	OwnerEmail    string         `db:"owner_email"`
	Recipient     string         `db:"recipient"`
	Subject       string         `db:"subject"`
	Body          string         `db:"body"`
	ScheduledTime int64          `db:"scheduled_time"`
	Status        string         `db:"status"`
	CreatedAt     int64          `db:"created_at"`
	ClaimedAt     sql.NullInt64  `db:"claimed_at"`
	SentAt        sql.NullInt64  `db:"sent_at"`
	ErrorMessage  sql.NullString `db:"error_message"`
	Credential    string         `db:"credential"`
}

// NewSQLite opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
// Use ":memory:" for a throwaway database.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serialises writers and keeps ":memory:" databases
	// shared across callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	currentVersion := 0
	if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range sqliteMigrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, e *models.ScheduledEmail) (string, error) {
	if err := prepareInsert(e); err != nil {
		return "", err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_emails (
			id, owner_email, recipient, subject, body,
			scheduled_time, status, created_at, credential
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerEmail, e.Recipient, e.Subject, e.Body,
		e.ScheduledTime.UnixNano(), string(models.StatusPending),
		e.CreatedAt.UnixNano(), e.Credential,
	)
	if err != nil {
		return "", persistErr("insert", err)
	}

	return e.ID, nil
}

func (s *SQLiteStore) FindDuePending(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]models.ScheduledEmail, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []sqliteRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM scheduled_emails
		WHERE status = ? AND scheduled_time <= ?
		ORDER BY scheduled_time ASC, id ASC
		LIMIT ?`,
		string(models.StatusPending), now.UnixNano(), limit,
	)
	if err != nil {
		return nil, persistErr("find due", err)
	}

	return fromRows(rows), nil
}

func (s *SQLiteStore) FindByOwner(ctx context.Context, owner string) ([]models.ScheduledEmail, error) {
	var rows []sqliteRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM scheduled_emails
		WHERE owner_email = ?
		ORDER BY scheduled_time ASC, id ASC`,
		owner,
	)
	if err != nil {
		return nil, persistErr("find by owner", err)
	}

	return fromRows(rows), nil
}

func (s *SQLiteStore) Get(ctx context.Context, id, owner string) (*models.ScheduledEmail, error) {
	var row sqliteRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM scheduled_emails WHERE id = ? AND owner_email = ?", id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get", err)
	}

	e := row.toModel()
	return &e, nil
}

func (s *SQLiteStore) UpdateStatus(
	ctx context.Context,
	id string,
	to models.EmailStatus,
	out models.Outcome,
) (bool, error) {
	from := models.SourcesFor(to)
	if len(from) == 0 {
		return false, fmt.Errorf("status %q cannot be entered by update", to)
	}

	claimedAt, sentAt, errMsg := transitionFields(to, out)

	args := []any{string(to), nanos(claimedAt), nanos(sentAt), errMsg, id}
	for _, st := range statusStrings(from) {
		args = append(args, st)
	}

	query := `
		UPDATE scheduled_emails
		SET status = ?,
		    claimed_at = COALESCE(?, claimed_at),
		    sent_at = ?,
		    error_message = ?
		WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, persistErr("update status", err)
	}

	return affectedOne(res, "update status")
}

func (s *SQLiteStore) CancelPending(ctx context.Context, id, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_emails SET status = ?
		WHERE id = ? AND owner_email = ? AND status = ?`,
		string(models.StatusCancelled), id, owner, string(models.StatusPending),
	)
	if err != nil {
		return false, persistErr("cancel", err)
	}

	return affectedOne(res, "cancel")
}

func (s *SQLiteStore) FailStaleClaims(
	ctx context.Context,
	before time.Time,
	out models.Outcome,
) (int64, error) {
	_, _, errMsg := transitionFields(models.StatusFailed, out)

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_emails SET status = ?, error_message = ?
		WHERE status = ? AND claimed_at <= ?`,
		string(models.StatusFailed), errMsg, string(models.StatusClaimed), before.UnixNano(),
	)
	if err != nil {
		return 0, persistErr("fail stale claims", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("fail stale claims", err)
	}
	return n, nil
}

func affectedOne(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr(op, err)
	}
	return n == 1, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromRows(rows []sqliteRow) []models.ScheduledEmail {
	if len(rows) == 0 {
		return nil
	}

	emails := make([]models.ScheduledEmail, len(rows))
	for i, r := range rows {
		emails[i] = r.toModel()
	}
	return emails
}

func (r sqliteRow) toModel() models.ScheduledEmail {
	e := models.ScheduledEmail{
		ID:            r.ID,
		OwnerEmail:    r.OwnerEmail,
		Recipient:     r.Recipient,
		Subject:       r.Subject,
		Body:          r.Body,
		ScheduledTime: fromNanos(r.ScheduledTime),
		Status:        models.EmailStatus(r.Status),
		CreatedAt:     fromNanos(r.CreatedAt),
		ErrorMessage:  r.ErrorMessage.String,
		Credential:    r.Credential,
	}
	if r.ClaimedAt.Valid {
		t := fromNanos(r.ClaimedAt.Int64)
		e.ClaimedAt = &t
	}
	if r.SentAt.Valid {
		t := fromNanos(r.SentAt.Int64)
		e.SentAt = &t
	}
	return e
}
