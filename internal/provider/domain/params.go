package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlattenJSON decodes a flat JSON object into the string parameter map the
// signature codec consumes. Numbers keep their wire form, nested values are
// re-encoded compactly.
func FlattenJSON(raw []byte) (map[string]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return nil, ErrInvalidPayload
	}

	params := make(map[string]string, len(payload))
	for key, value := range payload {
		switch cast := value.(type) {
		case nil:
			params[key] = ""
		case string:
			params[key] = cast
		case json.Number:
			params[key] = cast.String()
		case bool:
			params[key] = strconv.FormatBool(cast)
		default:
			encoded, err := json.Marshal(cast)
			if err != nil {
				return nil, ErrInvalidPayload
			}
			params[key] = string(encoded)
		}
	}
	return params, nil
}
