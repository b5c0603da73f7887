package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"SendLater/internal/models"
)

// Store is the durable home of scheduled emails. Every status change goes
// through a conditional update so concurrent writers cannot move a record out
// of a terminal state.
type Store interface {
	// Insert validates e, assigns its ID and pending status, and persists it.
	Insert(ctx context.Context, e *models.ScheduledEmail) (string, error)

	// FindDuePending returns at most limit pending records whose scheduled
	// time is at or before now, oldest first.
	FindDuePending(ctx context.Context, now time.Time, limit int) ([]models.ScheduledEmail, error)

	// FindByOwner returns every record owned by owner, oldest scheduled first.
	FindByOwner(ctx context.Context, owner string) ([]models.ScheduledEmail, error)

	// Get returns one record if it exists and belongs to owner.
	Get(ctx context.Context, id, owner string) (*models.ScheduledEmail, error)

	// UpdateStatus applies to only if the record currently holds one of
	// models.SourcesFor(to). It reports whether a row changed.
	UpdateStatus(ctx context.Context, id string, to models.EmailStatus, out models.Outcome) (bool, error)

	// CancelPending cancels id only if it is pending and owned by owner.
	CancelPending(ctx context.Context, id, owner string) (bool, error)

	// FailStaleClaims fails claimed records whose claim is older than before.
	FailStaleClaims(ctx context.Context, before time.Time, out models.Outcome) (int64, error)

	Close() error
}

// Open picks a Store implementation from the URL scheme:
// postgres:// or postgresql:// for PostgreSQL, sqlite:<path> for SQLite.
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgres(ctx, url)
	case strings.HasPrefix(url, "sqlite:"):
		return NewSQLite(strings.TrimPrefix(url, "sqlite:"))
	}

	scheme, _, _ := strings.Cut(url, ":")
	return nil, fmt.Errorf("unsupported database scheme %q", scheme)
}

// prepareInsert fills the server-owned fields of a new record.
func prepareInsert(e *models.ScheduledEmail) error {
	if err := e.Validate(); err != nil {
		return err
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	e.ScheduledTime = e.ScheduledTime.UTC()
	e.Status = models.StatusPending
	e.ClaimedAt = nil
	e.SentAt = nil
	e.ErrorMessage = ""

	return nil
}

// transitionFields resolves which optional columns a transition writes.
// A nil pointer leaves claimed_at untouched and clears sent_at / error_message.
func transitionFields(to models.EmailStatus, out models.Outcome) (claimedAt, sentAt *time.Time, errMsg *string) {
	at := out.At.UTC()
	if out.At.IsZero() {
		at = time.Now().UTC()
	}

	switch to {
	case models.StatusClaimed:
		claimedAt = &at
	case models.StatusSent:
		sentAt = &at
	case models.StatusFailed:
		msg := out.ErrorMessage
		if msg == "" {
			msg = "delivery failed"
		}
		errMsg = &msg
	}

	return claimedAt, sentAt, errMsg
}

func statusStrings(in []models.EmailStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func persistErr(op string, err error) error {
	return &models.PersistenceError{Op: op, Err: err}
}
