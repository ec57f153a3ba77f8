package jobs

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	info    *asynq.QueueInfo
	entries []*asynq.SchedulerEntry
	err     error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func (f fakeInspector) SchedulerEntries() ([]*asynq.SchedulerEntry, error) {
	return f.entries, f.err
}

func serveJobs(t *testing.T, inspector QueueInspector, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthReportsQueueCounts(t *testing.T) {
	rr := serveJobs(t, fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 2, Retry: 1, Archived: 4}}, "/jobs/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, queueHealth{Queue: QueueDefault, Pending: 2, Retry: 1, Archived: 4}, body)
}

func TestHealthUnavailableWhenRedisFails(t *testing.T) {
	rr := serveJobs(t, fakeInspector{err: errors.New("dial tcp: connection refused")}, "/jobs/health")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestScheduleListsEntriesByNextRun(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	verify, err := NewHistoryVerifyTask(HistoryVerifyPayload{})
	require.NoError(t, err)
	expiry, err := NewLotExpiryTask(LotExpiryPayload{})
	require.NoError(t, err)

	rr := serveJobs(t, fakeInspector{entries: []*asynq.SchedulerEntry{
		{Spec: "45 2 * * *", Task: verify, Next: now.Add(165 * time.Minute), Prev: now.Add(-21 * time.Hour)},
		{Spec: "5 0 * * *", Task: expiry, Next: now.Add(5 * time.Minute)},
		{Spec: "0 * * * *"},
	}}, "/jobs/schedule")
	require.Equal(t, http.StatusOK, rr.Code)

	var got []scheduleEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, TaskLotExpiry, got[0].Task)
	require.Nil(t, got[0].Prev)
	require.Equal(t, TaskHistoryVerify, got[1].Task)
	require.NotNil(t, got[1].Prev)
}

func TestScheduleWithoutInspectorIsEmpty(t *testing.T) {
	rr := serveJobs(t, nil, "/jobs/schedule")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String())
}
