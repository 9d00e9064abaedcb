package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/room4-2/studytutor/config"
	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/ledger"
	"github.com/room4-2/studytutor/metrics"
	"github.com/room4-2/studytutor/payment"
	"github.com/room4-2/studytutor/session"
	"github.com/room4-2/studytutor/store"
	"github.com/room4-2/studytutor/study"
)

type stubGenerator struct {
	err error
}

func (g stubGenerator) Analyze(_ context.Context, c study.Content) (study.Analysis, error) {
	return study.Analysis{IsStudyMaterial: true, Topic: "Biologia", Description: c.Text}, g.err
}

func (g stubGenerator) Summarize(context.Context, study.Content) (string, error) {
	return "## Resumo", g.err
}

func (g stubGenerator) Quiz(context.Context, study.Content) ([]study.QuizQuestion, error) {
	q := study.QuizQuestion{Question: "Q?", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 1}
	return []study.QuizQuestion{q, q}, g.err
}

func (g stubGenerator) Flashcards(context.Context, study.Content) ([]study.Flashcard, error) {
	return []study.Flashcard{{Front: "f", Back: "b"}}, g.err
}

func (g stubGenerator) Explain(context.Context, study.Content) (string, error) {
	return "simples", g.err
}

type stubVerifier struct {
	verdict payment.Verdict
	err     error
}

func (v stubVerifier) VerifyReceipt(context.Context, payment.Receipt, payment.Amount) (payment.Verdict, error) {
	return v.verdict, v.err
}

const (
	admin = "root@example.com"
	ana   = "ana@example.com"
)

type harness struct {
	t   *testing.T
	srv *httptest.Server
	db  *store.SQLite
}

func newHarness(t *testing.T, gen study.Generator, verifier payment.Verifier) *harness {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	l := ledger.New(db, ledger.Policy{Admins: []string{admin}, Banned: []string{"bad@example.com"}},
		map[string]int{"WELCOME": 20}, 50)
	catalog := payment.DefaultCatalog()
	flow := payment.NewFlow(payment.Recipient{Key: "key@pix.com", Name: "ANA", City: "SP", TxID: "***"},
		catalog, verifier, l, payment.NewMemoryGuard())
	m := metrics.NewMetrics("")

	api := &API{
		Ledger:   l,
		Accounts: db,
		Study:    study.NewService(gen, l, db, 1, 1),
		Payments: flow,
		Metrics:  m,
	}
	cfg := &config.Config{MaxSessions: 2, SessionTimeout: time.Minute, AllowedOrigins: []string{"*"}}
	s := NewServer(cfg, session.NewManager(cfg, session.Options{}), api, m)
	s.SetStoreStatus(func() bool { return false })

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, db: db}
}

func (h *harness) do(method, path, user string, body any) (int, map[string]json.RawMessage) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, h.srv.URL+path, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]json.RawMessage{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (h *harness) signup(email string) {
	h.t.Helper()
	if code, _ := h.do("POST", "/api/signup", "", map[string]string{"email": email, "name": "Ana"}); code != http.StatusOK {
		h.t.Fatalf("signup %s: %d", email, code)
	}
}

func errorCode(t *testing.T, body map[string]json.RawMessage) string {
	t.Helper()
	var e struct{ Code string }
	json.Unmarshal(body["error"], &e)
	return e.Code
}

func TestHealth(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{})
	code, body := h.do("GET", "/health", "", nil)
	if code != http.StatusOK || string(body["status"]) != `"ok"` || string(body["store"]) != `"local"` {
		t.Errorf("health = %d %v", code, body)
	}
}

func TestSignupAndBan(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{})
	h.signup(ana)

	code, body := h.do("GET", "/api/account", ana, nil)
	var acct struct{ Points int }
	json.Unmarshal(body["account"], &acct)
	if code != http.StatusOK || acct.Points != 50 {
		t.Errorf("account = %d %+v", code, acct)
	}

	code, body = h.do("POST", "/api/signup", "", map[string]string{"email": "bad@example.com"})
	if code != http.StatusForbidden || errorCode(t, body) != "BANNED" {
		t.Errorf("banned signup = %d %s", code, errorCode(t, body))
	}
	if code, _ := h.do("GET", "/api/account", "", nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous = %d", code)
	}
}

func TestStudyOperations(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{})
	h.signup(ana)

	file := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("mitocôndria"))
	code, body := h.do("POST", "/api/study/analyze", ana, map[string]any{
		"text":  "células",
		"files": []map[string]string{{"name": "notes.txt", "data": file}},
	})
	if code != http.StatusOK || string(body["topic"]) != `"Biologia"` {
		t.Fatalf("analyze = %d %v", code, body)
	}

	code, body = h.do("POST", "/api/study/quiz", ana, map[string]any{"text": "células"})
	if code != http.StatusOK {
		t.Fatalf("quiz = %d %v", code, body)
	}
	var quizID string
	json.Unmarshal(body["id"], &quizID)
	var questions []study.QuizQuestion
	json.Unmarshal(body["questions"], &questions)
	if quizID == "" || len(questions) != 2 {
		t.Fatalf("quiz id %q, %d questions", quizID, len(questions))
	}

	code, body = h.do("POST", "/api/quiz/complete", ana, map[string]any{
		"quizId":   quizID,
		"answers":  []int{1, 0},
		"language": "en",
	})
	if code != http.StatusOK || string(body["score"]) != "5" {
		t.Errorf("complete = %d %v", code, body)
	}
	var rewarded int
	json.Unmarshal(body["balance"], &rewarded)

	code, body = h.do("POST", "/api/quiz/complete", ana, map[string]any{
		"quizId":  quizID,
		"answers": []int{1, 1},
	})
	if code != http.StatusConflict {
		t.Errorf("replayed complete = %d %v", code, body)
	}
	if code, _ := h.do("POST", "/api/quiz/complete", ana, map[string]any{"quizId": "nope", "answers": []int{1}}); code != http.StatusNotFound {
		t.Errorf("unknown quiz = %d", code)
	}
	code, body = h.do("GET", "/api/account", ana, nil)
	var acct store.Account
	json.Unmarshal(body["account"], &acct)
	if code != http.StatusOK || acct.Points != rewarded {
		t.Errorf("points = %d, want %d after one reward", acct.Points, rewarded)
	}

	code, body = h.do("GET", "/api/history", ana, nil)
	var history []store.HistoryEntry
	json.Unmarshal(body["history"], &history)
	if code != http.StatusOK || len(history) != 1 {
		t.Errorf("history = %d %d entries", code, len(history))
	}

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown op", "/api/study/poem", map[string]string{"text": "x"}, http.StatusNotFound},
		{"empty content", "/api/study/analyze", map[string]string{}, http.StatusBadRequest},
		{"bad base64", "/api/study/summary", map[string]any{"files": []map[string]string{{"data": "%%%"}}}, http.StatusBadRequest},
		{"not json", "/api/study/summary", "text", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := h.do("POST", tt.path, ana, tt.body); code != tt.status {
				t.Errorf("status = %d, want %d", code, tt.status)
			}
		})
	}
}

func TestStudyInsufficientPoints(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{})
	h.db.Upsert(context.Background(), store.Account{Email: ana, Points: 0})

	code, body := h.do("POST", "/api/study/summary", ana, map[string]string{"text": "x"})
	if code != http.StatusPaymentRequired || errorCode(t, body) != "INSUFFICIENT_POINTS" {
		t.Errorf("summary = %d %s", code, errorCode(t, body))
	}
}

func TestStudyMissingCredential(t *testing.T) {
	gen := stubGenerator{err: failure.New(failure.Authentication, "gemini", failure.ErrMissingCredential)}
	h := newHarness(t, gen, stubVerifier{})
	h.signup(ana)

	code, body := h.do("POST", "/api/study/explain", ana, map[string]string{"text": "x"})
	if code != http.StatusServiceUnavailable || errorCode(t, body) != "AUTHENTICATION_ERROR" {
		t.Errorf("explain = %d %s", code, errorCode(t, body))
	}
}

func beginPayment(t *testing.T, h *harness) string {
	t.Helper()
	code, body := h.do("POST", "/api/payments", ana, map[string]string{"pack": "basic"})
	if code != http.StatusCreated {
		t.Fatalf("begin = %d %v", code, body)
	}
	var payload string
	json.Unmarshal(body["payload"], &payload)
	if err := payment.VerifyPayload(payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	var id string
	json.Unmarshal(body["id"], &id)
	return id
}

var receiptImage = map[string]string{"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))}

func TestPaymentVerifiedCreditsOnce(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{verdict: payment.Verdict{Verified: true, Reason: "ok"}})
	h.signup(ana)
	id := beginPayment(t, h)

	code, body := h.do("POST", "/api/payments/"+id+"/receipt", ana, receiptImage)
	if code != http.StatusOK || string(body["balance"]) != "100" {
		t.Fatalf("submit = %d %v", code, body)
	}

	// a second upload settles again without a second credit
	h.do("POST", "/api/payments/"+id+"/receipt", ana, receiptImage)
	acct, _ := h.db.Get(context.Background(), ana)
	if acct.Points != 100 {
		t.Errorf("points = %d, want 100", acct.Points)
	}
}

func TestPaymentRejectedStaysOpen(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{verdict: payment.Verdict{Verified: false, Reason: "valor divergente"}})
	h.signup(ana)
	id := beginPayment(t, h)

	code, body := h.do("POST", "/api/payments/"+id+"/receipt", ana, receiptImage)
	if code != http.StatusUnprocessableEntity || errorCode(t, body) != "VERIFICATION_REJECTED" {
		t.Fatalf("submit = %d %v", code, body)
	}
	var e struct {
		Message string
		Intent  payment.Intent
	}
	json.Unmarshal(body["error"], &e)
	if e.Message != "valor divergente" || e.Intent.Result != payment.Unverified {
		t.Errorf("error = %+v", e)
	}

	if code, _ := h.do("GET", "/api/payments/"+id, "other@example.com", nil); code != http.StatusNotFound {
		t.Errorf("foreign intent = %d", code)
	}

	code, body = h.do("DELETE", "/api/payments/"+id, ana, nil)
	if code != http.StatusOK || string(body["result"]) != `"rejected"` {
		t.Errorf("cancel = %d %v", code, body)
	}
	if code, _ := h.do("POST", "/api/payments/"+id+"/receipt", ana, receiptImage); code != http.StatusConflict {
		t.Errorf("submit after cancel = %d", code)
	}
}

func TestPaymentVerifierDown(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{err: errors.New("503")})
	h.signup(ana)
	id := beginPayment(t, h)

	code, body := h.do("POST", "/api/payments/"+id+"/receipt", ana, receiptImage)
	if code != http.StatusBadGateway || errorCode(t, body) != "SERVICE_UNAVAILABLE" {
		t.Errorf("submit = %d %s", code, errorCode(t, body))
	}
}

func TestRedeemAndAdmin(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{})
	h.signup(ana)

	code, body := h.do("POST", "/api/redeem", ana, map[string]string{"code": " welcome "})
	if code != http.StatusOK || string(body["balance"]) != "70" {
		t.Errorf("redeem = %d %v", code, body)
	}
	if code, _ := h.do("POST", "/api/redeem", ana, map[string]string{"code": "WELCOME"}); code != http.StatusConflict {
		t.Errorf("second redeem = %d", code)
	}

	if code, _ := h.do("GET", "/api/admin/accounts", ana, nil); code != http.StatusForbidden {
		t.Errorf("non-admin list = %d", code)
	}
	code, body = h.do("PATCH", "/api/admin/accounts/"+ana, admin, map[string]int{"delta": -100})
	if code != http.StatusOK || string(body["balance"]) != "0" {
		t.Errorf("adjust = %d %v", code, body)
	}
	code, body = h.do("GET", "/api/admin/accounts", admin, nil)
	if code != http.StatusOK || !strings.Contains(string(body["accounts"]), ana) {
		t.Errorf("list = %d %v", code, body)
	}
	if code, _ := h.do("DELETE", "/api/admin/accounts/"+ana, admin, nil); code != http.StatusNoContent {
		t.Errorf("delete = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, stubGenerator{}, stubVerifier{})
	h.do("GET", "/api/packs", "", nil)

	resp, err := http.Get(h.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `route="GET /api/packs"`) {
		t.Error("packs request not recorded")
	}
}
