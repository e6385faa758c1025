package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Encode serializes v to JSON and wraps it in standard base64.
//
// This is obfuscation, not encryption. Anyone can reverse it with Decode.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode into v.
func Decode(encoded string, v any) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload json: %w", err)
	}
	return nil
}

// envelope is the wire wrapper around encoded payloads.
type envelope struct {
	Data string `json:"data"`
}
