package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"SendLater/internal/models"
)

const pgColumns = `id, owner_email, recipient, subject, body, scheduled_time,
	status, created_at, claimed_at, sent_at, error_message, credential`

type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, conn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PostgresStore{Pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var current int
	if err := s.Pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`,
	).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range postgresMigrations {
		if m.version <= current {
			continue
		}
		if _, err := s.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, e *models.ScheduledEmail) (string, error) {
	if err := prepareInsert(e); err != nil {
		return "", err
	}

	_, err := s.Pool.Exec(ctx,
		`INSERT INTO scheduled_emails
		 (id, owner_email, recipient, subject, body, scheduled_time, status, created_at, credential)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID,
		e.OwnerEmail,
		e.Recipient,
		e.Subject,
		e.Body,
		e.ScheduledTime,
		string(models.StatusPending),
		e.CreatedAt,
		e.Credential,
	)
	if err != nil {
		return "", persistErr("insert", err)
	}

	return e.ID, nil
}

func (s *PostgresStore) FindDuePending(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]models.ScheduledEmail, error) {

	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT `+pgColumns+`
		 FROM scheduled_emails
		 WHERE status=$1 AND scheduled_time <= $2
		 ORDER BY scheduled_time ASC, id ASC
		 LIMIT $3`,
		string(models.StatusPending),
		now.UTC(),
		limit,
	)
	if err != nil {
		return nil, persistErr("find due", err)
	}

	return collectEmails(rows, "find due")
}

func (s *PostgresStore) FindByOwner(ctx context.Context, owner string) ([]models.ScheduledEmail, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+pgColumns+`
		 FROM scheduled_emails
		 WHERE owner_email=$1
		 ORDER BY scheduled_time ASC, id ASC`,
		owner,
	)
	if err != nil {
		return nil, persistErr("find by owner", err)
	}

	return collectEmails(rows, "find by owner")
}

func (s *PostgresStore) Get(ctx context.Context, id, owner string) (*models.ScheduledEmail, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM scheduled_emails WHERE id=$1 AND owner_email=$2`,
		id,
		owner,
	)

	e, err := scanEmail(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get", err)
	}

	return &e, nil
}

func (s *PostgresStore) UpdateStatus(
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

	tag, err := s.Pool.Exec(ctx,
		`UPDATE scheduled_emails
		 SET status=$1,
		     claimed_at=COALESCE($2::timestamptz, claimed_at),
		     sent_at=$3,
		     error_message=$4
		 WHERE id=$5 AND status = ANY($6)`,
		string(to),
		claimedAt,
		sentAt,
		errMsg,
		id,
		statusStrings(from),
	)
	if err != nil {
		return false, persistErr("update status", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CancelPending(ctx context.Context, id, owner string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE scheduled_emails
		 SET status=$1
		 WHERE id=$2 AND owner_email=$3 AND status=$4`,
		string(models.StatusCancelled),
		id,
		owner,
		string(models.StatusPending),
	)
	if err != nil {
		return false, persistErr("cancel", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) FailStaleClaims(
	ctx context.Context,
	before time.Time,
	out models.Outcome,
) (int64, error) {

	_, _, errMsg := transitionFields(models.StatusFailed, out)

	tag, err := s.Pool.Exec(ctx,
		`UPDATE scheduled_emails
		 SET status=$1,
		     error_message=$2
		 WHERE status=$3 AND claimed_at <= $4`,
		string(models.StatusFailed),
		errMsg,
		string(models.StatusClaimed),
		before.UTC(),
	)
	if err != nil {
		return 0, persistErr("fail stale claims", err)
	}

	return tag.RowsAffected(), nil
}

func collectEmails(rows pgx.Rows, op string) ([]models.ScheduledEmail, error) {
	defer rows.Close()

	var emails []models.ScheduledEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}

	return emails, nil
}

func scanEmail(row pgx.Row) (models.ScheduledEmail, error) {
	var (
		e      models.ScheduledEmail
		status string
		errMsg *string
	)

	err := row.Scan(
		&e.ID,
		&e.OwnerEmail,
		&e.Recipient,
		&e.Subject,
		&e.Body,
		&e.ScheduledTime,
		&status,
		&e.CreatedAt,
		&e.ClaimedAt,
		&e.SentAt,
		&errMsg,
		&e.Credential,
	)
	if err != nil {
		return e, err
	}

	e.Status = models.EmailStatus(status)
	e.ScheduledTime = e.ScheduledTime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if errMsg != nil {
		e.ErrorMessage = *errMsg
	}

	return e, nil
}
