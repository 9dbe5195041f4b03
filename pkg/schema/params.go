package schema

import (
	"bytes"
	"encoding/json"
)

// DecodeParams strictly decodes a step's raw params into the typed
// parameter struct for its kind. Unknown fields are rejected so typos
// surface at load time instead of silently doing nothing.
func DecodeParams[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, NewErrorf(ErrCodeDefinition, "decode step params: %s", err.Error()).WithCause(err)
	}
	return p, nil
}
