package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"SendLater/internal/db"
	"SendLater/internal/email"
	"SendLater/internal/metrics"
	"SendLater/internal/models"
	"SendLater/internal/vault"
)

const staleClaimMessage = "dispatch interrupted before delivery was confirmed; not retried to avoid a duplicate send"

type Options struct {
	BatchSize    int
	Workers      int
	ClaimTimeout time.Duration
	Retry        email.RetryPolicy
}

// Result is the outcome of one record in a batch.
type Result struct {
	ID     string             `json:"id"`
	Status models.EmailStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// Report summarises one dispatch batch.
type Report struct {
	Processed int      `json:"processed"`
	Results   []Result `json:"results"`
}

// Dispatcher finds due scheduled emails and delivers them. Each record is
// claimed with a conditional update before the send, so a concurrent
// dispatcher that read the same record loses the claim and skips it.
type Dispatcher struct {
	Store   db.Store
	Vault   vault.Vault
	Sender  email.Deliverer
	Limiter *rate.Limiter
	Log     *zap.Logger
	Opts    Options

	// Now defaults to time.Now.
	Now func() time.Time

	running sync.Mutex
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// RunOnce processes a single batch. It returns an empty report without
// touching the store when another batch is already running in this process.
func (d *Dispatcher) RunOnce(ctx context.Context) (Report, error) {
	if !d.running.TryLock() {
		d.Log.Warn("dispatch batch skipped, previous batch still running")
		return Report{Results: []Result{}}, nil
	}
	defer d.running.Unlock()

	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	now := d.now()

	if d.Opts.ClaimTimeout > 0 {
		n, err := d.Store.FailStaleClaims(ctx, now.Add(-d.Opts.ClaimTimeout), models.Outcome{
			At:           now,
			ErrorMessage: staleClaimMessage,
		})
		if err != nil {
			d.Log.Error("failed to expire stale claims", zap.Error(err))
		} else if n > 0 {
			metrics.StaleClaims.Add(float64(n))
			d.Log.Warn("expired stale claims", zap.Int64("count", n))
		}
	}

	batch := d.Opts.BatchSize
	if batch <= 0 {
		batch = 10
	}

	due, err := d.Store.FindDuePending(ctx, now, batch)
	if err != nil {
		return Report{}, fmt.Errorf("fetching due emails: %w", err)
	}

	results := make([]*Result, len(due))
	jobs := make(chan int)

	workers := d.Opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(due) {
		workers = len(due)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			for idx := range jobs {
				results[idx] = d.process(ctx, id, due[idx])
			}
		}(i)
	}

	for idx := range due {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	report := Report{Results: make([]Result, 0, len(due))}
	for _, r := range results {
		if r != nil {
			report.Results = append(report.Results, *r)
		}
	}
	report.Processed = len(report.Results)

	if len(due) > 0 {
		d.Log.Info("dispatch batch complete",
			zap.Int("due", len(due)),
			zap.Int("processed", report.Processed),
		)
	}

	return report, nil
}

// process delivers one record. A nil result means the claim was lost to
// another dispatcher or a cancel and the record was left alone.
func (d *Dispatcher) process(ctx context.Context, workerID int, e models.ScheduledEmail) (res *Result) {
	log := d.Log.With(zap.Int("worker_id", workerID), zap.String("email_id", e.ID))

	// ----------------------------
	// Claim
	// ----------------------------
	claimed, err := d.Store.UpdateStatus(ctx, e.ID, models.StatusClaimed, models.Outcome{At: d.now()})
	if err != nil {
		log.Error("failed to claim email", zap.Error(err))
		return &Result{ID: e.ID, Status: models.StatusPending, Error: err.Error()}
	}
	if !claimed {
		log.Info("email no longer pending, skipping")
		return nil
	}

	// Anything that escapes from here on still ends in a terminal state.
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during delivery", zap.Any("panic", r))
			res = d.fail(ctx, log, e.ID, fmt.Sprintf("unexpected delivery error: %v", r), "panic")
		}
	}()

	// ----------------------------
	// Recover credential
	// ----------------------------
	token, err := d.Vault.Open(e.Credential)
	if err != nil {
		return d.fail(ctx, log, e.ID, fmt.Sprintf("credential unavailable: %v", err), "credential")
	}

	// ----------------------------
	// Rate Limit
	// ----------------------------
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return d.fail(ctx, log, e.ID, fmt.Sprintf("dispatch interrupted: %v", err), "interrupted")
		}
	}

	// ----------------------------
	// Send Email
	// ----------------------------
	msg := email.Message{
		From:    e.OwnerEmail,
		To:      e.Recipient,
		Subject: e.Subject,
		Body:    e.Body,
	}

	err = email.SendWithRetry(ctx, d.Sender, msg, token, d.Opts.Retry, func(err error, wait time.Duration) {
		metrics.DeliveryRetries.Inc()
		log.Warn("transient delivery failure, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		class := "delivery"
		if email.IsAuth(err) {
			class = "auth"
		}
		return d.fail(ctx, log, e.ID, err.Error(), class)
	}

	// ----------------------------
	// Mark as Sent
	// ----------------------------
	sentAt := d.now()
	recorded, err := d.Store.UpdateStatus(context.WithoutCancel(ctx), e.ID, models.StatusSent, models.Outcome{At: sentAt})
	if err != nil {
		// The message went out; the record stays claimed until the claim
		// timeout fails it.
		log.Error("failed to update sent status", zap.Error(err))
		return &Result{ID: e.ID, Status: models.StatusSent, Error: "sent, but status update failed: " + err.Error()}
	}
	if !recorded {
		return d.storedOutcome(ctx, log, e)
	}

	metrics.EmailsSent.Inc()
	log.Info("email sent successfully", zap.String("to", e.Recipient))

	return &Result{ID: e.ID, Status: models.StatusSent}
}

// storedOutcome reports what the store holds for a record whose sent update
// lost to another writer, usually a stale-claim sweep in another process.
func (d *Dispatcher) storedOutcome(ctx context.Context, log *zap.Logger, e models.ScheduledEmail) *Result {
	current, err := d.Store.Get(context.WithoutCancel(ctx), e.ID, e.OwnerEmail)
	if err != nil {
		log.Error("sent status not recorded and record unreadable", zap.Error(err))
		return &Result{ID: e.ID, Status: models.StatusSent, Error: "sent, but status update failed: " + err.Error()}
	}

	log.Warn("email sent but record already settled by another writer",
		zap.String("status", string(current.Status)),
	)

	return &Result{
		ID:     e.ID,
		Status: current.Status,
		Error:  fmt.Sprintf("delivered, but record was already %s: %s", current.Status, current.ErrorMessage),
	}
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, id, msg, class string) *Result {
	log.Error("email send failed", zap.String("class", class), zap.String("error", msg))
	metrics.EmailFailures.WithLabelValues(class).Inc()

	if _, err := d.Store.UpdateStatus(context.WithoutCancel(ctx), id, models.StatusFailed, models.Outcome{
		At:           d.now(),
		ErrorMessage: msg,
	}); err != nil {
		log.Error("failed to update failure status", zap.Error(err))
	}

	return &Result{ID: id, Status: models.StatusFailed, Error: msg}
}

// Run triggers RunOnce every interval until ctx is cancelled. A batch that
// is in flight when ctx ends runs to completion so every claimed record gets
// its outcome; each send is still bounded by the sender's own timeout.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.Log.Info("dispatcher started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			d.Log.Info("dispatcher shutting down")
			return
		case <-ticker.C:
			if _, err := d.RunOnce(context.WithoutCancel(ctx)); err != nil {
				d.Log.Error("dispatch batch failed", zap.Error(err))
			}
		}
	}
}
