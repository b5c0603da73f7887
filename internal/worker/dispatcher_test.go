package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"SendLater/internal/db"
	"SendLater/internal/email"
	"SendLater/internal/models"
	"SendLater/internal/vault"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu     sync.Mutex
	sent   []email.Message
	tokens []string
	// behaviour keyed by recipient; nil means success
	behave map[string]func() error
}

func (f *fakeSender) Send(_ context.Context, msg email.Message, token string) error {
	f.mu.Lock()
	fn := f.behave[msg.To]
	f.sent = append(f.sent, msg)
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newDispatcher(t *testing.T, sender email.Deliverer) (*Dispatcher, *db.SQLiteStore) {
	t.Helper()

	store, err := db.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := &Dispatcher{
		Store:  store,
		Vault:  vault.Base64{},
		Sender: sender,
		Log:    zaptest.NewLogger(t),
		Opts:   Options{BatchSize: 10, Workers: 2, ClaimTimeout: 10 * time.Minute},
		Now:    func() time.Time { return now },
	}
	return d, store
}

func schedule(t *testing.T, store db.Store, to string, at time.Time) string {
	t.Helper()

	token, _ := vault.Base64{}.Seal("ya29." + to)
	id, err := store.Insert(context.Background(), &models.ScheduledEmail{
		OwnerEmail:    "user@x.com",
		Recipient:     to,
		Subject:       "hello " + to,
		Body:          "body",
		ScheduledTime: at,
		Credential:    token,
	})
	require.NoError(t, err)
	return id
}

func record(t *testing.T, store db.Store, id string) *models.ScheduledEmail {
	t.Helper()

	e, err := store.Get(context.Background(), id, "user@x.com")
	require.NoError(t, err)
	return e
}

func TestDueEmailIsSent(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcher(t, sender)
	id := schedule(t, store, "a@y.com", now.Add(-time.Second))

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed)
	assert.Equal(t, Result{ID: id, Status: models.StatusSent}, report.Results[0])

	e := record(t, store, id)
	assert.Equal(t, models.StatusSent, e.Status)
	require.NotNil(t, e.SentAt)
	assert.True(t, e.SentAt.Equal(now))
	assert.Empty(t, e.ErrorMessage)

	require.Equal(t, 1, sender.count())
	assert.Equal(t, "ya29.a@y.com", sender.tokens[0])
	assert.Equal(t, email.Message{From: "user@x.com", To: "a@y.com", Subject: "hello a@y.com", Body: "body"}, sender.sent[0])
}

func TestAuthFailureMarksFailed(t *testing.T) {
	sender := &fakeSender{behave: map[string]func() error{
		"a@y.com": func() error {
			return &email.DeliveryError{StatusCode: 401, Auth: true, Message: "Gmail API error: 401 - {} (Access token expired or invalid. User must re-authenticate.)"}
		},
	}}
	d, store := newDispatcher(t, sender)
	d.Opts.Retry = email.RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond}
	id := schedule(t, store, "a@y.com", now.Add(-time.Second))

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, models.StatusFailed, report.Results[0].Status)

	e := record(t, store, id)
	assert.Equal(t, models.StatusFailed, e.Status)
	assert.Contains(t, e.ErrorMessage, "re-authenticate")
	assert.Nil(t, e.SentAt)
	assert.Equal(t, 1, sender.count(), "auth failures are not retried")
}

func TestCancelledEmailIsNotSent(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcher(t, sender)
	at := now.Add(time.Hour)
	id := schedule(t, store, "a@y.com", at)

	ok, err := store.CancelPending(context.Background(), id, "user@x.com")
	require.NoError(t, err)
	require.True(t, ok)

	d.Now = func() time.Time { return at }
	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Processed)
	assert.Zero(t, sender.count())
	assert.Equal(t, models.StatusCancelled, record(t, store, id).Status)
}

func TestNotYetDueEmailIsLeftPending(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcher(t, sender)
	id := schedule(t, store, "a@y.com", now.Add(time.Minute))

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.NotNil(t, report.Results)
	assert.Equal(t, models.StatusPending, record(t, store, id).Status)
}

func TestFailureInOneRecordDoesNotAbortBatch(t *testing.T) {
	sender := &fakeSender{behave: map[string]func() error{
		"2@y.com": func() error { panic("nil map write in encoder") },
		"3@y.com": func() error { return &email.DeliveryError{StatusCode: 400, Message: "Gmail API error: 400 - bad"} },
	}}
	d, store := newDispatcher(t, sender)

	first := schedule(t, store, "1@y.com", now.Add(-3*time.Minute))
	second := schedule(t, store, "2@y.com", now.Add(-2*time.Minute))
	third := schedule(t, store, "3@y.com", now.Add(-time.Minute))

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Processed)

	assert.Equal(t, first, report.Results[0].ID)
	assert.Equal(t, second, report.Results[1].ID)
	assert.Equal(t, third, report.Results[2].ID)

	assert.Equal(t, models.StatusSent, record(t, store, first).Status)

	e2 := record(t, store, second)
	assert.Equal(t, models.StatusFailed, e2.Status)
	assert.Contains(t, e2.ErrorMessage, "nil map write in encoder")
	assert.Nil(t, e2.SentAt)

	e3 := record(t, store, third)
	assert.Equal(t, models.StatusFailed, e3.Status)
	assert.Contains(t, e3.ErrorMessage, "400")
}

func TestTransientFailureIsRetried(t *testing.T) {
	var calls int
	sender := &fakeSender{behave: map[string]func() error{
		"a@y.com": func() error {
			calls++
			if calls == 1 {
				return &email.DeliveryError{Transient: true, Message: "Gmail API timeout"}
			}
			return nil
		},
	}}
	d, store := newDispatcher(t, sender)
	d.Opts.Workers = 1
	d.Opts.Retry = email.RetryPolicy{Attempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	id := schedule(t, store, "a@y.com", now)

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sender.count())
	assert.Equal(t, models.StatusSent, record(t, store, id).Status)
}

func TestUnreadableCredentialFails(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcher(t, sender)

	id, err := store.Insert(context.Background(), &models.ScheduledEmail{
		OwnerEmail:    "user@x.com",
		Recipient:     "a@y.com",
		Subject:       "s",
		ScheduledTime: now,
		Credential:    "!!not base64!!",
	})
	require.NoError(t, err)

	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)

	e := record(t, store, id)
	assert.Equal(t, models.StatusFailed, e.Status)
	assert.Contains(t, e.ErrorMessage, "credential unavailable")
	assert.Zero(t, sender.count())
}

func TestBatchSizeBoundsWork(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcher(t, sender)
	d.Opts.BatchSize = 2

	for _, to := range []string{"1@y.com", "2@y.com", "3@y.com"} {
		schedule(t, store, to, now.Add(-time.Minute))
	}

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)

	report, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 3, sender.count())
}

func TestConcurrentDispatchersSendOnce(t *testing.T) {
	sender := &fakeSender{}
	d1, store := newDispatcher(t, sender)
	d2 := &Dispatcher{Store: store, Vault: vault.Base64{}, Sender: sender, Log: d1.Log, Opts: d1.Opts, Now: d1.Now}

	for _, to := range []string{"1@y.com", "2@y.com", "3@y.com", "4@y.com"} {
		schedule(t, store, to, now.Add(-time.Minute))
	}

	var wg sync.WaitGroup
	for _, d := range []*Dispatcher{d1, d2} {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			_, err := d.RunOnce(context.Background())
			assert.NoError(t, err)
		}(d)
	}
	wg.Wait()

	assert.Equal(t, 4, sender.count())
}

func TestStaleClaimsAreFailedNotResent(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcher(t, sender)
	id := schedule(t, store, "a@y.com", now.Add(-time.Hour))

	ok, err := store.UpdateStatus(context.Background(), id, models.StatusClaimed, models.Outcome{At: now.Add(-time.Hour)})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)

	e := record(t, store, id)
	assert.Equal(t, models.StatusFailed, e.Status)
	assert.Equal(t, staleClaimMessage, e.ErrorMessage)
	assert.Zero(t, sender.count())
}

type blockingSender struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSender) Send(context.Context, email.Message, string) error {
	close(b.started)
	<-b.release
	return nil
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	d, store := newDispatcher(t, sender)
	schedule(t, store, "a@y.com", now)

	done := make(chan Report)
	go func() {
		r, _ := d.RunOnce(context.Background())
		done <- r
	}()
	<-sender.started

	skipped, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, skipped.Processed)

	close(sender.release)
	first := <-done
	assert.Equal(t, 1, first.Processed)
}

type brokenStore struct{ db.Store }

func (brokenStore) FailStaleClaims(context.Context, time.Time, models.Outcome) (int64, error) {
	return 0, nil
}

func (brokenStore) FindDuePending(context.Context, time.Time, int) ([]models.ScheduledEmail, error) {
	return nil, &models.PersistenceError{Op: "find due", Err: errors.New("connection refused")}
}

func TestStoreErrorIsReturned(t *testing.T) {
	d, _ := newDispatcher(t, &fakeSender{})
	d.Store = brokenStore{}

	_, err := d.RunOnce(context.Background())
	var pErr *models.PersistenceError
	assert.ErrorAs(t, err, &pErr)
}

func TestSentUpdateLostToSweepReportsStoredStatus(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcher(t, sender)
	id := schedule(t, store, "a@y.com", now.Add(-time.Minute))

	// another instance's sweep fails the claim while the send is in flight
	sender.behave = map[string]func() error{
		"a@y.com": func() error {
			n, err := store.FailStaleClaims(context.Background(), now.Add(time.Hour), models.Outcome{At: now, ErrorMessage: staleClaimMessage})
			assert.NoError(t, err)
			assert.EqualValues(t, 1, n)
			return nil
		},
	}

	report, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	assert.Equal(t, models.StatusFailed, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Error, "delivered")

	e := record(t, store, id)
	assert.Equal(t, models.StatusFailed, e.Status)
	assert.Equal(t, staleClaimMessage, e.ErrorMessage)
}

type ctxSender struct {
	started chan struct{}
	release chan struct{}
}

func (s *ctxSender) Send(ctx context.Context, _ email.Message, _ string) error {
	close(s.started)
	select {
	case <-ctx.Done():
		return &email.DeliveryError{Message: "Gmail API request aborted: " + ctx.Err().Error(), Err: ctx.Err()}
	case <-s.release:
		return nil
	}
}

func TestRunFinishesInFlightBatchOnShutdown(t *testing.T) {
	sender := &ctxSender{started: make(chan struct{}), release: make(chan struct{})}
	d, store := newDispatcher(t, sender)
	id := schedule(t, store, "a@y.com", now.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		d.Run(ctx, 5*time.Millisecond)
	}()

	<-sender.started
	cancel()

	select {
	case <-stopped:
		t.Fatal("Run returned while a send was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sender.release)
	<-stopped

	assert.Equal(t, models.StatusSent, record(t, store, id).Status)
}
