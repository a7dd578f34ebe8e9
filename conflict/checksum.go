package conflict

import (
	"encoding/json"
	"fmt"
)

// Checksum computes a 32-bit rolling hash over the JSON encoding of value:
// hash = hash*31 + codepoint, wrapped to 32 bits. Deterministic but not
// cryptographic; collisions are acceptable for a "did the bytes change"
// heuristic, not a security control.
func Checksum(value interface{}) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	var h uint32
	for _, r := range string(b) {
		h = h*31 + uint32(r)
	}
	return fmt.Sprintf("%08x", h), nil
}
