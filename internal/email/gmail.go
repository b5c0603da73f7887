package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const DefaultGmailSendURL = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"

const reauthHint = " (Access token expired or invalid. User must re-authenticate.)"

// Deliverer sends one message on behalf of the holder of accessToken.
// Implementations do not retry; see SendWithRetry.
type Deliverer interface {
	Send(ctx context.Context, msg Message, accessToken string) error
}

// GmailSender posts messages to the Gmail users.messages.send endpoint.
type GmailSender struct {
	Endpoint string
	Client   *http.Client
}

// NewGmailSender creates a sender whose every call is bounded by timeout.
func NewGmailSender(endpoint string, timeout time.Duration) *GmailSender {
	if endpoint == "" {
		endpoint = DefaultGmailSendURL
	}
	return &GmailSender{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	Raw string `json:"raw"`
}

// Send renders msg and submits it with accessToken as bearer credential.
func (s *GmailSender) Send(ctx context.Context, msg Message, accessToken string) error {
	if accessToken == "" {
		return &DeliveryError{Auth: true, Message: "missing access token" + reauthHint}
	}

	raw, err := msg.Raw()
	if err != nil {
		return &DeliveryError{Message: err.Error(), Err: err}
	}

	payload, err := json.Marshal(sendRequest{Raw: raw})
	if err != nil {
		return &DeliveryError{Message: fmt.Sprintf("encoding request: %v", err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Message: fmt.Sprintf("building request: %v", err), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
}

func classifyStatus(code int, body string) *DeliveryError {
	dErr := &DeliveryError{
		StatusCode: code,
		Message:    fmt.Sprintf("Gmail API error: %d - %s", code, body),
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		dErr.Auth = true
		dErr.Message += reauthHint
	case code == http.StatusTooManyRequests || code >= 500:
		dErr.Transient = true
	}

	return dErr
}

func classifyTransportError(ctx context.Context, err error) *DeliveryError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &DeliveryError{
			Transient: errors.Is(ctxErr, context.DeadlineExceeded),
			Message:   fmt.Sprintf("Gmail API request aborted: %v", ctxErr),
			Err:       err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &DeliveryError{
			Transient: true,
			Message:   fmt.Sprintf("Gmail API timeout: %v", err),
			Err:       err,
		}
	}

	return &DeliveryError{
		Transient: true,
		Message:   fmt.Sprintf("Gmail API unreachable: %v", err),
		Err:       err,
	}
}
