package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beargallbladder/domainrunner/internal/config"
	"github.com/beargallbladder/domainrunner/pkg/scheduler"
)

type fakeScheduler struct {
	triggerRun *scheduler.Run
	triggerErr error
	cancelErr  error
	lastReq    scheduler.TriggerRequest
	lastCancel string
	snapshot   scheduler.StatusSnapshot
}

func (f *fakeScheduler) Trigger(_ context.Context, req scheduler.TriggerRequest) (*scheduler.Run, error) {
	f.lastReq = req
	return f.triggerRun, f.triggerErr
}

func (f *fakeScheduler) CancelRun(runID string) error {
	f.lastCancel = runID
	return f.cancelErr
}

func (f *fakeScheduler) Status() scheduler.StatusSnapshot { return f.snapshot }

// newTestServer builds a Server wired for the routes under test (healthz,
// trigger, cancel), none of which touch the database, Redis, the provider
// registry, or the breaker set — all four are left nil/empty on purpose.
func newTestServer(t *testing.T, sched *fakeScheduler, internalToken string) *Server {
	t.Helper()
	cfg := &config.Config{
		CORSAllowedOrigins: []string{"*"},
		InternalToken:      internalToken,
	}
	logger := slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	return NewServer(cfg, logger, nil, nil, prometheus.NewRegistry(), nil, nil, sched)
}

func TestHandleHealthz_AlwaysOK(t *testing.T) {
	s := newTestServer(t, &fakeScheduler{}, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTrigger_RejectsMissingToken(t *testing.T) {
	s := newTestServer(t, &fakeScheduler{}, "secret-token")

	body, _ := json.Marshal(triggerRequest{Tier: "cheap"})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleTrigger_ActiveRunReturnsConflict(t *testing.T) {
	sched := &fakeScheduler{triggerErr: scheduler.ErrRunActive}
	s := newTestServer(t, sched, "secret-token")

	body, _ := json.Marshal(triggerRequest{Tier: "cheap"})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleTrigger_HappyPathReturnsRun(t *testing.T) {
	run := &scheduler.Run{ID: "run-1", Tier: scheduler.TierCheap, Status: scheduler.RunRunning}
	sched := &fakeScheduler{triggerRun: run}
	s := newTestServer(t, sched, "secret-token")

	body, _ := json.Marshal(triggerRequest{Tier: "cheap", Limit: 10})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, scheduler.TierCheap, sched.lastReq.Tier)
	assert.Equal(t, 10, sched.lastReq.Limit)
}

func TestHandleTrigger_InvalidTierFailsValidation(t *testing.T) {
	s := newTestServer(t, &fakeScheduler{}, "secret-token")

	body, _ := json.Marshal(triggerRequest{Tier: "nonexistent"})
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleCancelJob_UnknownRunReturnsNotFound(t *testing.T) {
	sched := &fakeScheduler{cancelErr: scheduler.ErrRunNotFound}
	s := newTestServer(t, sched, "secret-token")

	req := httptest.NewRequest(http.MethodPost, "/jobs/does-not-exist/cancel", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "does-not-exist", sched.lastCancel)
}
