package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecorder_Counts(t *testing.T) {
	r := New()
	r.RunFinished(OutcomeSuccess, time.Second)
	r.RunFinished(OutcomeSuccess, 2*time.Second)
	r.RunFinished(OutcomeReauth, time.Second)
	r.Message(MessageLabeled)
	r.Message(MessageReview)
	r.Message(MessageReview)
	r.LLMCall(LLMDeclined)

	body := scrape(t, r)
	assert.Contains(t, body, `mailsort_runs_total{outcome="success"} 2`)
	assert.Contains(t, body, `mailsort_runs_total{outcome="needs_reauth"} 1`)
	assert.Contains(t, body, `mailsort_messages_total{outcome="review"} 2`)
	assert.Contains(t, body, `mailsort_llm_calls_total{outcome="declined"} 1`)
	assert.Contains(t, body, "mailsort_run_duration_seconds_count 3")
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RunFinished(OutcomeError, time.Second)
		r.Message(MessageError)
		r.LLMCall(LLMFailed)
	})
	assert.Nil(t, r.Registry())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
