package cache

import (
	"encoding/json"
	"fmt"
)

// envelopeVersion is bumped whenever the on-disk shape of an entry
// changes in an incompatible way. Readers reject unknown versions rather
// than guessing.
const envelopeVersion = 1

// envelope is the stable, self-describing wrapper persisted for every
// cache value. The OCR result itself is carried as json.RawMessage: the
// cache never interprets it, it only stores and retrieves it verbatim.
type envelope struct {
	V      int             `json:"v"`
	Result json.RawMessage `json:"result"`
}

// EncodeResult wraps an opaque OCR result into the versioned envelope
// bytes stored by the cache backend.
func EncodeResult(result json.RawMessage) ([]byte, error) {
	env := envelope{V: envelopeVersion, Result: result}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("cache: encode envelope: %w", err)
	}
	return b, nil
}

// DecodeResult unwraps envelope bytes back into the opaque OCR result.
// A decode failure (corrupt value or unknown version) is treated as a
// cache miss by callers.
func DecodeResult(data []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("cache: decode envelope: %w", err)
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("cache: unsupported envelope version %d", env.V)
	}
	return env.Result, nil
}
