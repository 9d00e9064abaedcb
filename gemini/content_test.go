package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/payment"
	"github.com/room4-2/studytutor/study"
)

func TestDecodeJSONRepairsModelOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"clean", `{"verified": true, "reason": "ok"}`},
		{"trailing comma", `{"verified": true, "reason": "ok",}`},
		{"unquoted keys", `{verified: true, reason: "ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v payment.Verdict
			if err := decodeJSON(tt.in, &v); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !v.Verified || v.Reason != "ok" {
				t.Errorf("got %+v", v)
			}
		})
	}

	var v payment.Verdict
	if err := decodeJSON("", &v); !errors.Is(err, errEmptyResponse) {
		t.Errorf("empty err = %v", err)
	}
}

func TestReceiptPromptNamesAmountAndRecipients(t *testing.T) {
	p := receiptPrompt("10.00", []string{"5562982166200", " ", "Samuel Ribeiro"})
	for _, want := range []string{"R$ 10.00", `"5562982166200" ou "Samuel Ribeiro"`, "Concluído"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLanguageInstruction(t *testing.T) {
	if LanguageInstruction(study.English) != "Always respond in English." {
		t.Error("english instruction")
	}
	if !strings.Contains(quizPrompt(study.Portuguese), "Português do Brasil") {
		t.Error("portuguese quiz prompt")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"unauthorized", genai.APIError{Code: 401, Message: "bad key"}, failure.Authentication},
		{"invalid key", genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key."}, failure.Authentication},
		{"overloaded", genai.APIError{Code: 503, Message: "overloaded"}, failure.TransientService},
		{"network", errors.New("dial tcp: connection refused"), failure.TransientService},
		{"already classified", failure.New(failure.Connection, "x", io.EOF), failure.Connection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failure.KindOf(classify("op", failure.TransientService, tt.err)); got != tt.want {
				t.Errorf("kind = %v, want %v", got, tt.want)
			}
		})
	}

	if err := classify("op", failure.TransientService, context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("cancel err = %v", err)
	}
}

func TestMissingCredentialFailsBeforeNetwork(t *testing.T) {
	c := NewClient(ClientConfig{})
	_, err := c.Summarize(context.Background(), study.Content{Text: "x"})
	if !errors.Is(err, failure.ErrAuthentication) || !errors.Is(err, failure.ErrMissingCredential) {
		t.Errorf("err = %v", err)
	}

	if _, err := NewProxy(context.Background(), ""); !errors.Is(err, failure.ErrAuthentication) {
		t.Errorf("proxy err = %v", err)
	}
}

// fakeAPI answers generateContent with a fixed candidate text or status
func fakeAPI(t *testing.T, status int, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"status":"ERR"}}`, status, text)
			return
		}
		fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, text)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyReceipt(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   payment.Verdict
		kind   failure.Kind
	}{
		{"verified", 200, `{"verified":true,"reason":"valor confere"}`, payment.Verdict{Verified: true, Reason: "valor confere"}, failure.Unknown},
		{"rejected", 200, `{"verified":false,"reason":"amount mismatch"}`, payment.Verdict{Reason: "amount mismatch"}, failure.Unknown},
		{"garbage", 200, `I cannot read this image`, payment.Verdict{Reason: receiptUnreadableText}, failure.Unknown},
		{"server error", 500, "internal", payment.Verdict{}, failure.TransientService},
		{"bad key", 401, "API key not valid", payment.Verdict{}, failure.Authentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeAPI(t, tt.status, tt.body)
			c := NewClient(ClientConfig{APIKey: "test-key", BaseURL: srv.URL, Recipients: []string{"Samuel Ribeiro"}})

			got, err := c.VerifyReceipt(context.Background(), payment.Receipt{Data: []byte{0xff, 0xd8}}, payment.Amount(1000))
			if kind := failure.KindOf(err); kind != tt.kind {
				t.Fatalf("err = %v (kind %v), want kind %v", err, kind, tt.kind)
			}
			if got != tt.want {
				t.Errorf("verdict = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestQuizDecodes(t *testing.T) {
	body := `[{"question":"2+2?","options":["1","2","3","4"],"correctAnswer":3,"explanation":"soma"}]`
	srv := fakeAPI(t, 200, body)
	c := NewClient(ClientConfig{APIKey: "test-key", BaseURL: srv.URL})

	qs, err := c.Quiz(context.Background(), study.Content{Text: "aritmética"})
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 1 || qs[0].CorrectAnswer != 3 || len(qs[0].Options) != 4 {
		t.Errorf("quiz = %+v", qs)
	}
}
