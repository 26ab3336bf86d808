package credentials

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// maxTTL bounds the reported ttl so the expiry arithmetic cannot overflow.
const maxTTL = time.Duration(math.MaxInt64) - time.Second

// Payload is a credential document as returned by the endpoint. The cache only
// interprets the ttl field; everything else is passed through to the caller.
type Payload struct {
	// TTL is the lifetime of the credentials as reported by the issuing server.
	TTL time.Duration

	// Raw is the complete JSON object returned by the endpoint.
	Raw json.RawMessage
}

// Decode unmarshals the complete payload into v.
func (p Payload) Decode(v any) error {
	if len(p.Raw) == 0 {
		return errors.New("empty credential payload")
	}
	return json.Unmarshal(p.Raw, v)
}

// ttlEnvelope extracts only the field the cache depends on.
type ttlEnvelope struct {
	TTL *float64 `json:"ttl"`
}

// decodePayload checks that the document is a JSON object with a numeric ttl
// (in seconds) and wraps it as a Payload.
func decodePayload(raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Payload{}, errors.New("credential payload is not a JSON object")
	}

	var env ttlEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Payload{}, fmt.Errorf("decoding credential payload: %w", err)
	}

	if env.TTL == nil {
		return Payload{}, errors.New("credential payload has no ttl")
	}

	return Payload{
		TTL: ttlDuration(*env.TTL),
		Raw: append(json.RawMessage(nil), trimmed...),
	}, nil
}

// ttlDuration converts a ttl in seconds to whole milliseconds, saturating at
// maxTTL in either direction.
func ttlDuration(secs float64) time.Duration {
	ms := secs * 1000
	limit := float64(maxTTL / time.Millisecond)

	switch {
	case ms >= limit:
		return maxTTL
	case ms <= -limit:
		return -maxTTL
	}

	return time.Duration(ms) * time.Millisecond
}
