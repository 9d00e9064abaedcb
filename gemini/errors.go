package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/room4-2/studytutor/failure"
)

// classify maps an SDK error to a failure kind. Credential problems are
// Authentication whatever the call; everything else falls back to kind.
// Context errors are returned unchanged so callers can tell cancellation apart.
func classify(op string, kind failure.Kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if failure.KindOf(err) != failure.Unknown {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			return failure.New(failure.Authentication, op, err)
		case apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "API key"):
			return failure.New(failure.Authentication, op, err)
		}
	}
	return failure.New(kind, op, err)
}
