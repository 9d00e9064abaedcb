package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TutorConnected()
	m.RecordTransition("error", "CONNECTION_ERROR")
	m.RecordFrames(1, 2, 3)
	m.RecordPayment("verified", 100)
	m.RecordStudyCall("quiz", nil)

	h := m.Instrument("/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandlerExposesRecordedValues(t *testing.T) {
	m := NewMetrics("")
	m.TutorConnected()
	m.RecordPayment("verified", 250)
	m.RecordStudyCall("quiz", errors.New("boom"))

	h := m.Instrument("/api/packs", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/packs", nil))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"studytutor_tutor_sessions_active 1",
		`studytutor_payments_total{outcome="verified"} 1`,
		"studytutor_points_credited_total 250",
		`studytutor_study_calls_total{op="quiz",status="error"} 1`,
		`studytutor_http_requests_total{route="/api/packs",status="404"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
