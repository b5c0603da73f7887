package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

const defaultRelayTimeout = 15 * time.Second

// SMTPRelay delivers through a plain SMTP server such as a local MailHog.
// It ignores the access token and exists for development only.
type SMTPRelay struct {
	Host     string
	Port     int
	Username string
	Password string

	// Timeout bounds one whole send, dial through QUIT. Zero means 15s.
	Timeout time.Duration
}

func (s *SMTPRelay) Send(ctx context.Context, msg Message, _ string) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Message: fmt.Sprintf("smtp send aborted: %v", err), Err: err}
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultRelayTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)

	// gomail bounds only the dial; a stalled session is abandoned on timeout.
	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(msg.gomail()) }()

	select {
	case err := <-done:
		if err != nil {
			return &DeliveryError{
				Transient: true,
				Message:   fmt.Sprintf("smtp send error: %v", err),
				Err:       err,
			}
		}
		return nil
	case <-ctx.Done():
		return &DeliveryError{
			Transient: ctx.Err() == context.DeadlineExceeded,
			Message:   fmt.Sprintf("smtp send timed out after %s: %v", timeout, ctx.Err()),
			Err:       ctx.Err(),
		}
	}
}
