// Package utils provides small helpers shared across packages.
package utils

import (
	"bytes"
	"encoding/json"
)

// MaskKey masks an API key for safe logging (first 8 and last 4 chars).
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// MarshalNoEscape marshals JSON without HTML escaping, so '<' in stored
// bodies is not inflated into <.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
