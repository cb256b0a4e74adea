package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedPayload means the scanned string is not a parseable payload.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMissingRequiredField means the payload parsed but lacks the activity
	// or token identifier.
	ErrMissingRequiredField = errors.New("payload missing required field")
)

// Payload is the data embedded in a QR image. The visual rendering is a
// presentation artifact; this struct is the contract.
type Payload struct {
	ActivityID string     `json:"activityId"`
	TokenID    string     `json:"tokenId"`
	IssuedAt   time.Time  `json:"issuedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Encode serializes a payload deterministically. Encode and Decode round-trip
// exactly.
func Encode(p Payload) (string, error) {
	if p.ActivityID == "" || p.TokenID == "" {
		return "", ErrMissingRequiredField
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

// Decode parses a scanned payload string. It reports only structural
// problems; a well-formed payload for an expired or revoked token decodes
// fine — staleness is the validator's call, not the codec's.
func Decode(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.ActivityID == "" || p.TokenID == "" {
		return Payload{}, ErrMissingRequiredField
	}
	return p, nil
}
