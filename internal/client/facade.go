// Package client talks to the scheduling API on behalf of an interactive
// user. It tracks loading and error state the way a UI needs it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"SendLater/internal/models"
)

// Facade is safe for concurrent use. Identical in-flight list requests are
// collapsed into one call.
type Facade struct {
	BaseURL string
	HTTP    *http.Client

	group singleflight.Group

	mu      sync.Mutex
	loading int
	lastErr error
	emails  []models.ScheduledEmail
}

func New(baseURL string) *Facade {
	return &Facade{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Draft is what the user wants sent later.
type Draft struct {
	To            string
	Subject       string
	Body          string
	ScheduledTime time.Time
}

type apiError struct {
	Error string `json:"error"`
}

// Schedule submits d on behalf of userEmail and reloads the list on success.
func (f *Facade) Schedule(ctx context.Context, d Draft, userEmail, accessToken string) (string, error) {
	f.begin()
	defer f.end()

	payload := map[string]string{
		"to":            d.To,
		"subject":       d.Subject,
		"body":          d.Body,
		"scheduledTime": d.ScheduledTime.UTC().Format(time.RFC3339),
		"userEmail":     userEmail,
		"accessToken":   accessToken,
	}

	var out struct {
		Success          bool   `json:"success"`
		ScheduledEmailID string `json:"scheduledEmailId"`
	}
	if err := f.do(ctx, http.MethodPost, "/schedule", payload, &out); err != nil {
		return "", f.fail(err)
	}
	if !out.Success {
		return "", f.fail(errors.New("failed to schedule email"))
	}

	if _, err := f.load(ctx, userEmail); err != nil {
		return out.ScheduledEmailID, err
	}
	return out.ScheduledEmailID, nil
}

// Load fetches userEmail's scheduled emails and replaces the current list.
func (f *Facade) Load(ctx context.Context, userEmail string) ([]models.ScheduledEmail, error) {
	f.begin()
	defer f.end()

	return f.load(ctx, userEmail)
}

func (f *Facade) load(ctx context.Context, userEmail string) ([]models.ScheduledEmail, error) {
	v, err, _ := f.group.Do("list:"+userEmail, func() (any, error) {
		var out struct {
			Emails []models.ScheduledEmail `json:"emails"`
		}
		path := "/user-scheduled?userEmail=" + url.QueryEscape(userEmail)
		if err := f.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return out.Emails, nil
	})
	if err != nil {
		return nil, f.fail(fmt.Errorf("failed to load scheduled emails: %w", err))
	}

	emails := v.([]models.ScheduledEmail)

	f.mu.Lock()
	f.emails = emails
	f.mu.Unlock()

	return append([]models.ScheduledEmail(nil), emails...), nil
}

// Cancel asks the server to cancel id and reloads the list when it did.
// A false result means the email was not pending or not the user's.
func (f *Facade) Cancel(ctx context.Context, id, userEmail string) (bool, error) {
	f.begin()
	defer f.end()

	var out struct {
		Success bool `json:"success"`
	}
	body := map[string]string{"id": id, "userEmail": userEmail}
	if err := f.do(ctx, http.MethodPost, "/cancel", body, &out); err != nil {
		return false, f.fail(err)
	}
	if !out.Success {
		return false, f.fail(errors.New("failed to cancel scheduled email"))
	}

	if _, err := f.load(ctx, userEmail); err != nil {
		return true, err
	}
	return true, nil
}

func (f *Facade) IsLoading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading > 0
}

// Err is the error from the most recent action, or nil if it succeeded.
func (f *Facade) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Emails returns a copy of the last loaded list.
func (f *Facade) Emails() []models.ScheduledEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ScheduledEmail(nil), f.emails...)
}

func (f *Facade) begin() {
	f.mu.Lock()
	f.loading++
	f.lastErr = nil
	f.mu.Unlock()
}

func (f *Facade) end() {
	f.mu.Lock()
	f.loading--
	f.mu.Unlock()
}

func (f *Facade) fail(err error) error {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
	return err
}

func (f *Facade) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
