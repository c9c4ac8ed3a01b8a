package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)
}

func TestObserveHelpersAfterInit(t *testing.T) {
	Init()

	require.NotPanics(t, func() {
		ObserveSubmission("SEND_MESSAGE", "MANUAL")
		ObserveCompletion("SEND_MESSAGE", "COMPLETED", 3*time.Second)
		ObserveRetry("SEND_MESSAGE", "TRANSIENT")
		ObserveClaimError()
		IncActiveWorkers()
		DecActiveWorkers()
		ObserveHTTPRequest(http.MethodPost, "/v1/runs", http.StatusAccepted, 20*time.Millisecond)
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveSubmission("DOWNLOAD_CONNECTIONS", "SCHEDULER")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "scheduler_runs_submitted_total")
}
