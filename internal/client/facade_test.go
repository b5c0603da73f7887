package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SendLater/internal/models"
)

type fakeAPI struct {
	mu      sync.Mutex
	emails  []models.ScheduledEmail
	lists   atomic.Int32
	gate    chan struct{}
	lastReq map[string]string
}

func (a *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /schedule", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)

		if req["subject"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid request: subject is required"})
			return
		}

		a.mu.Lock()
		a.lastReq = req
		a.emails = append(a.emails, models.ScheduledEmail{ID: "e1", Recipient: req["to"], Status: models.StatusPending})
		a.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]any{"success": true, "scheduledEmailId": "e1"})
	})

	mux.HandleFunc("GET /user-scheduled", func(w http.ResponseWriter, r *http.Request) {
		a.lists.Add(1)
		if a.gate != nil {
			<-a.gate
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"emails": a.emails})
	})

	mux.HandleFunc("POST /cancel", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)

		a.mu.Lock()
		defer a.mu.Unlock()
		for i := range a.emails {
			if a.emails[i].ID == req["id"] && a.emails[i].Status == models.StatusPending {
				a.emails[i].Status = models.StatusCancelled
				json.NewEncoder(w).Encode(map[string]bool{"success": true})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]bool{"success": false})
	})

	return mux
}

func newFacade(t *testing.T, api *fakeAPI) *Facade {
	t.Helper()

	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestScheduleReloadsList(t *testing.T) {
	api := &fakeAPI{}
	f := newFacade(t, api)
	at := time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC)

	id, err := f.Schedule(context.Background(), Draft{To: "b@y.com", Subject: "hi", ScheduledTime: at}, "a@x.com", "tok")
	require.NoError(t, err)
	assert.Equal(t, "e1", id)

	api.mu.Lock()
	sent := api.lastReq
	api.mu.Unlock()
	assert.Equal(t, "2026-05-05T09:00:00Z", sent["scheduledTime"])
	assert.Equal(t, "tok", sent["accessToken"])

	require.Len(t, f.Emails(), 1)
	assert.False(t, f.IsLoading())
	assert.NoError(t, f.Err())
}

func TestScheduleSurfacesServerError(t *testing.T) {
	f := newFacade(t, &fakeAPI{})

	_, err := f.Schedule(context.Background(), Draft{To: "b@y.com", ScheduledTime: time.Now()}, "a@x.com", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject is required")
	assert.Equal(t, err, f.Err())
	assert.Empty(t, f.Emails())
}

func TestCancel(t *testing.T) {
	api := &fakeAPI{}
	f := newFacade(t, api)
	ctx := context.Background()

	_, err := f.Schedule(ctx, Draft{To: "b@y.com", Subject: "hi", ScheduledTime: time.Now()}, "a@x.com", "tok")
	require.NoError(t, err)

	ok, err := f.Cancel(ctx, "e1", "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.StatusCancelled, f.Emails()[0].Status)

	ok, err = f.Cancel(ctx, "e1", "a@x.com")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Error(t, f.Err())
}

func TestEmailsReturnsCopy(t *testing.T) {
	api := &fakeAPI{emails: []models.ScheduledEmail{{ID: "e1"}}}
	f := newFacade(t, api)

	_, err := f.Load(context.Background(), "a@x.com")
	require.NoError(t, err)

	got := f.Emails()
	got[0].ID = "mutated"
	assert.Equal(t, "e1", f.Emails()[0].ID)
}

func TestConcurrentLoadsShareOneRequest(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{})}
	f := newFacade(t, api)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Load(context.Background(), "a@x.com")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return api.lists.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.IsLoading())

	// let the other callers pile onto the in-flight request
	time.Sleep(50 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	assert.EqualValues(t, 1, api.lists.Load())
	assert.False(t, f.IsLoading())
}
