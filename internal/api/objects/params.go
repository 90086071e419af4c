package objects

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParamsError marks a request whose params could not be used
type ParamsError struct {
	Reason string
}

func (e *ParamsError) Error() string {
	return "invalid params: " + e.Reason
}

// InvalidParams builds a ParamsError
func InvalidParams(format string, args ...interface{}) error {
	return &ParamsError{Reason: fmt.Sprintf(format, args...)}
}

// BindParams decodes named params into dst. A positional array holding a
// single object is accepted too, since some clients always send arrays.
func BindParams(params json.RawMessage, dst interface{}) error {
	raw := bytes.TrimSpace(params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return InvalidParams("%v", err)
		}
		switch len(list) {
		case 0:
			raw = []byte("{}")
		case 1:
			raw = list[0]
		default:
			return InvalidParams("expected a single params object, got %d values", len(list))
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return InvalidParams("%v", err)
	}
	return nil
}

// Require reports the first empty required field
func Require(fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return InvalidParams("missing required parameter: %s", name)
		}
	}
	return nil
}
