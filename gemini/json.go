package gemini

import (
	"encoding/json"
	"errors"

	"github.com/kaptinlin/jsonrepair"
)

var errEmptyResponse = errors.New("model returned an empty response")

// decodeJSON unmarshals model output into v. Malformed JSON (truncated
// arrays, trailing commas, fenced blocks) is repaired once before giving up.
func decodeJSON(text string, v any) error {
	if text == "" {
		return errEmptyResponse
	}
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(text)
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
