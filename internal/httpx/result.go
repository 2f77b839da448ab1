package httpx

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	xerrors "XOS-Runner/internal/errors"
)

// Result is the outcome of Send. Send never returns a Go error; failures are
// described by Success, Status, Error and Err.
type Result struct {
	Success bool
	Status  int
	// Data is the "data" field of the response envelope when present and
	// non-empty, otherwise the whole body.
	Data  json.RawMessage
	Error string
	Err   *xerrors.Error
}

// Get reads a field of Data with a gjson path.
func (r Result) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Data, path)
}

// Decode unmarshals Data into v.
func (r Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return xerrors.New(xerrors.CodeClientProtocol, "empty response body")
	}
	return json.Unmarshal(r.Data, v)
}

func unwrapData(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if d := gjson.GetBytes(body, "data"); d.Exists() && truthy(d) {
		return json.RawMessage(d.Raw)
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return true
	}
}

func errorMessage(body []byte, fallback string) string {
	for _, path := range []string{"message", "error.message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return fallback
}
