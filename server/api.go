package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/ledger"
	"github.com/room4-2/studytutor/metrics"
	"github.com/room4-2/studytutor/payment"
	"github.com/room4-2/studytutor/store"
	"github.com/room4-2/studytutor/study"
)

// UserHeader carries the signed-in user's email
const UserHeader = "X-User-Email"

const maxBodySize = 20 << 20 // uploads carry base64 images and PDFs

// API serves the study, points and payment endpoints
type API struct {
	Ledger   *ledger.Ledger
	Accounts store.AccountStore
	Study    *study.Service
	Payments *payment.Flow
	Metrics  *metrics.Metrics
}

// Register mounts the API routes on mux
func (a *API) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /api/signup", a.handleSignup},
		{"GET /api/account", a.user(a.handleAccount)},
		{"POST /api/study/{op}", a.user(a.handleStudy)},
		{"POST /api/quiz/complete", a.user(a.handleQuizComplete)},
		{"GET /api/history", a.user(a.handleHistory)},
		{"POST /api/redeem", a.user(a.handleRedeem)},
		{"GET /api/packs", a.handlePacks},
		{"POST /api/payments", a.user(a.handleBeginPayment)},
		{"GET /api/payments/{id}", a.user(a.handleGetPayment)},
		{"POST /api/payments/{id}/receipt", a.user(a.handleSubmitReceipt)},
		{"DELETE /api/payments/{id}", a.user(a.handleCancelPayment)},
		{"GET /api/admin/accounts", a.admin(a.handleListAccounts)},
		{"PATCH /api/admin/accounts/{email}", a.admin(a.handleAdjustAccount)},
		{"DELETE /api/admin/accounts/{email}", a.admin(a.handleDeleteAccount)},
	}
	for _, r := range routes {
		mux.Handle(r.pattern, a.Metrics.Instrument(r.pattern, r.handler))
	}
}

type userKey struct{}

func userFrom(ctx context.Context) string {
	email, _ := ctx.Value(userKey{}).(string)
	return email
}

// user requires a known, non-banned email
func (a *API) user(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := strings.ToLower(strings.TrimSpace(r.Header.Get(UserHeader)))
		if email == "" {
			writeErrorCode(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing "+UserHeader)
			return
		}
		if a.Ledger.Policy().IsBanned(email) {
			writeError(w, ledger.ErrBanned)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, email)))
	}
}

// admin requires an email listed in the admin policy
func (a *API) admin(next http.HandlerFunc) http.HandlerFunc {
	return a.user(func(w http.ResponseWriter, r *http.Request) {
		if !a.Ledger.Policy().IsAdmin(userFrom(r.Context())) {
			writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "admin only")
			return
		}
		next(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest{err}
	}
	return nil
}

type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return "invalid request body: " + e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Intent  *payment.Intent `json:"intent,omitempty"`
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// statusOf maps domain errors to HTTP status and a wire code
func statusOf(err error) (int, string) {
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, ledger.ErrBanned):
		return http.StatusForbidden, "BANNED"
	case errors.Is(err, ledger.ErrInsufficientPoints):
		return http.StatusPaymentRequired, "INSUFFICIENT_POINTS"
	case errors.Is(err, ledger.ErrUnknownCode), errors.Is(err, store.ErrNotFound),
		errors.Is(err, payment.ErrIntentNotFound), errors.Is(err, study.ErrQuizNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ledger.ErrCodeAlreadyUsed), errors.Is(err, payment.ErrIntentClosed),
		errors.Is(err, payment.ErrSubmitInFlight), errors.Is(err, payment.ErrSettleInFlight),
		errors.Is(err, payment.ErrInvalidOperation), errors.Is(err, study.ErrQuizCompleted):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, study.ErrEmptyContent), errors.Is(err, study.ErrInvalidBase64),
		errors.Is(err, study.ErrAnswerCount), errors.Is(err, study.ErrEmptyQuiz),
		errors.Is(err, payment.ErrInvalidReceipt), errors.Is(err, ledger.ErrInvalidDelta):
		return http.StatusBadRequest, "INVALID_REQUEST"
	}

	kind := failure.KindOf(err)
	switch kind {
	case failure.VerificationRejected:
		return http.StatusUnprocessableEntity, failure.Code(kind)
	case failure.Authentication:
		return http.StatusServiceUnavailable, failure.Code(kind)
	case failure.TransientService, failure.Connection:
		return http.StatusBadGateway, failure.Code(kind)
	}
	return http.StatusInternalServerError, failure.Code(kind)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if reason := failure.ReasonOf(err); reason != "" {
		msg = reason
	}
	if status == http.StatusInternalServerError {
		log.Printf("❌ API error: %v", err)
	}
	writeErrorCode(w, status, code, msg)
}

type signupRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(email, "@") {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid email")
		return
	}
	acct, err := a.Ledger.Signup(r.Context(), email, strings.TrimSpace(req.Name))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := a.Accounts.Get(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": acct,
		"admin":   a.Ledger.Policy().IsAdmin(acct.Email),
	})
}

type fileRequest struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // data URL or bare base64
}

type studyRequest struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Files    []fileRequest `json:"files"`
}

func (req studyRequest) content() (study.Content, error) {
	c := study.Content{Text: strings.TrimSpace(req.Text)}
	if req.Language != "" {
		c.Language = study.ParseLanguage(req.Language)
	}
	for _, f := range req.Files {
		data, mime, err := study.DecodeDataURL(f.Data)
		if err != nil {
			return study.Content{}, err
		}
		if f.MIMEType != "" {
			mime = f.MIMEType
		}
		c.Files = append(c.Files, study.File{Name: f.Name, MIMEType: mime, Data: data})
	}
	return c, nil
}

func (a *API) handleStudy(w http.ResponseWriter, r *http.Request) {
	op := r.PathValue("op")
	var req studyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	content, err := req.content()
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, email := r.Context(), userFrom(r.Context())
	var result any
	switch op {
	case "analyze":
		result, err = a.Study.Analyze(ctx, email, content)
	case "summary":
		var text string
		text, err = a.Study.Summary(ctx, email, content)
		result = map[string]string{"summary": text}
	case "quiz":
		result, err = a.Study.Quiz(ctx, email, content)
	case "flashcards":
		var cards []study.Flashcard
		cards, err = a.Study.Flashcards(ctx, email, content)
		result = map[string]any{"flashcards": cards}
	case "explain":
		var text string
		text, err = a.Study.Explain(ctx, email, content)
		result = map[string]string{"explanation": text}
	default:
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", "unknown study operation "+op)
		return
	}
	a.Metrics.RecordStudyCall(op, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type completeRequest struct {
	QuizID   string `json:"quizId"`
	Answers  []int  `json:"answers"`
	Language string `json:"language"`
}

func (a *API) handleQuizComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := a.Study.Complete(r.Context(), userFrom(r.Context()), req.QuizID, req.Answers, study.ParseLanguage(req.Language))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Study.History(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (a *API) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	balance, err := a.Ledger.Redeem(r.Context(), userFrom(r.Context()), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (a *API) handlePacks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packs": a.Payments.Catalog().Packs})
}

type beginRequest struct {
	Pack string `json:"pack"`
}

func (a *API) handleBeginPayment(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	in, err := a.Payments.Begin(userFrom(r.Context()), req.Pack)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

// ownIntent loads an intent and hides intents of other users
func (a *API) ownIntent(r *http.Request) (payment.Intent, error) {
	in, err := a.Payments.Get(r.PathValue("id"))
	if err != nil {
		return payment.Intent{}, err
	}
	if in.Email != userFrom(r.Context()) {
		return payment.Intent{}, payment.ErrIntentNotFound
	}
	return in, nil
}

func (a *API) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	in, err := a.ownIntent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

type receiptRequest struct {
	Image    string `json:"image"` // data URL or bare base64
	MIMEType string `json:"mimeType"`
}

func (a *API) handleSubmitReceipt(w http.ResponseWriter, r *http.Request) {
	in, err := a.ownIntent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req receiptRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	data, mime, err := study.DecodeDataURL(req.Image)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.MIMEType != "" {
		mime = req.MIMEType
	}

	out, err := a.Payments.Submit(r.Context(), in.ID, payment.Receipt{Data: data, MIMEType: mime})
	if err != nil {
		a.Metrics.RecordPayment(paymentOutcome(err), 0)
		status, code := statusOf(err)
		body := errorBody{Code: code, Message: err.Error()}
		if reason := failure.ReasonOf(err); reason != "" {
			body.Message = reason
		}
		if out.Intent.ID != "" {
			body.Intent = &out.Intent
		}
		writeJSON(w, status, map[string]errorBody{"error": body})
		return
	}
	a.Metrics.RecordPayment("verified", out.Intent.Points)
	writeJSON(w, http.StatusOK, out)
}

func paymentOutcome(err error) string {
	if payment.IsRejected(err) {
		return "rejected"
	}
	return "error"
}

func (a *API) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	in, err := a.ownIntent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in, err = a.Payments.Cancel(in.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	a.Metrics.RecordPayment("cancelled", 0)
	writeJSON(w, http.StatusOK, in)
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.Accounts.GetAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if accounts == nil {
		accounts = []store.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

type adjustRequest struct {
	Delta int `json:"delta"`
}

func (a *API) handleAdjustAccount(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	email := strings.ToLower(r.PathValue("email"))
	balance, err := a.Ledger.Adjust(r.Context(), email, req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("🔧 Admin %s adjusted %s by %+d", userFrom(r.Context()), email, req.Delta)
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(r.PathValue("email"))
	if err := a.Accounts.Delete(r.Context(), email); err != nil {
		writeError(w, err)
		return
	}
	log.Printf("🗑️ Admin %s deleted %s", userFrom(r.Context()), email)
	w.WriteHeader(http.StatusNoContent)
}
