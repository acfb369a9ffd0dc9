package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEvent = "lamb/event/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed ID of a committed state event.
// The same (kind, instance, version, seq, values) always yields the same ID.
func EventID(kind string, instanceID int64, version uint64, seq int64, values Values) (string, error) {
	if values == nil {
		values = Values{}
	}
	obj := map[string]any{
		"kind":        kind,
		"instance_id": instanceID,
		"version":     version,
		"seq":         seq,
		"values":      values,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainEvent, canonical), nil
}

// MustEventID is like EventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventID(kind string, instanceID int64, version uint64, seq int64, values Values) string {
	id, err := EventID(kind, instanceID, version, seq, values)
	if err != nil {
		panic(err)
	}
	return id
}
