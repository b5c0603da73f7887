// Package scheduling admits new scheduled sends and exposes owner-scoped
// listing and cancellation.
package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"SendLater/internal/db"
	"SendLater/internal/metrics"
	"SendLater/internal/models"
	"SendLater/internal/vault"
)

// Request is a user's ask to send a message later. The credential travels
// with the request; nothing is read from ambient session state.
type Request struct {
	To            string
	Subject       string
	Body          string
	ScheduledTime time.Time
	OwnerEmail    string
	AccessToken   string
}

type Service struct {
	Store db.Store
	Vault vault.Vault
	Log   *zap.Logger
}

func (s *Service) Schedule(ctx context.Context, req Request) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	token, err := s.Vault.Seal(req.AccessToken)
	if err != nil {
		return "", fmt.Errorf("sealing credential: %w", err)
	}

	e := &models.ScheduledEmail{
		OwnerEmail:    strings.TrimSpace(req.OwnerEmail),
		Recipient:     strings.TrimSpace(req.To),
		Subject:       req.Subject,
		Body:          req.Body,
		ScheduledTime: req.ScheduledTime,
		Credential:    token,
	}

	id, err := s.Store.Insert(ctx, e)
	if err != nil {
		return "", err
	}

	metrics.EmailsScheduled.Inc()
	s.Log.Info("email scheduled",
		zap.String("email_id", id),
		zap.String("owner", e.OwnerEmail),
		zap.Time("scheduled_time", e.ScheduledTime),
	)

	return id, nil
}

func (s *Service) ListForOwner(ctx context.Context, owner string) ([]models.ScheduledEmail, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, &models.ValidationError{Field: "userEmail", Reason: "is required"}
	}
	return s.Store.FindByOwner(ctx, owner)
}

// Get returns one of owner's records.
func (s *Service) Get(ctx context.Context, id, owner string) (*models.ScheduledEmail, error) {
	return s.Store.Get(ctx, id, owner)
}

// Cancel reports false, with no error, when the record is missing, owned by
// someone else, or already past pending.
func (s *Service) Cancel(ctx context.Context, id, owner string) (bool, error) {
	if id == "" || owner == "" {
		return false, nil
	}

	ok, err := s.Store.CancelPending(ctx, id, owner)
	if err != nil {
		return false, err
	}

	if ok {
		metrics.EmailsCancelled.Inc()
		s.Log.Info("scheduled email cancelled", zap.String("email_id", id), zap.String("owner", owner))
	} else {
		s.Log.Debug("cancel was a no-op", zap.String("email_id", id), zap.String("owner", owner))
	}

	return ok, nil
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.To) == "":
		return &models.ValidationError{Field: "to", Reason: "is required"}
	case strings.TrimSpace(req.Subject) == "":
		return &models.ValidationError{Field: "subject", Reason: "is required"}
	case req.ScheduledTime.IsZero():
		return &models.ValidationError{Field: "scheduledTime", Reason: "is required"}
	case strings.TrimSpace(req.OwnerEmail) == "":
		return &models.ValidationError{Field: "userEmail", Reason: "is required"}
	case req.AccessToken == "":
		return &models.ValidationError{Field: "accessToken", Reason: "is required"}
	}

	if _, err := mail.ParseAddress(req.To); err != nil {
		return &models.ValidationError{Field: "to", Reason: "is not a valid address"}
	}
	if _, err := mail.ParseAddress(req.OwnerEmail); err != nil {
		return &models.ValidationError{Field: "userEmail", Reason: "is not a valid address"}
	}

	return nil
}
