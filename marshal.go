package durable

import (
	"encoding/json"
)

// Marshal create a single point of change if the encoding changes.
func Marshal[T any](t *T) ([]byte, error) {
	return json.Marshal(t)
}

// Unmarshal create a single point of change if the decoding changes.
func Unmarshal[T any](b []byte, t *T) error {
	if len(b) == 0 {
		return nil
	}

	return json.Unmarshal(b, t)
}
