package event

import (
	"encoding/json"

	kiterr "github.com/c0deZ3R0/collab-kit/errors"
)

// Serializer provides round-trip JSON (de)serialization of envelopes.
// Deserialization always re-validates: a structurally valid-looking payload
// that fails type-specific sanitization is rejected, not silently coerced.
type Serializer struct {
	validator *Validator
}

// NewSerializer returns a Serializer backed by the given validator.
// A nil validator gets a default one.
func NewSerializer(v *Validator) *Serializer {
	if v == nil {
		v = NewValidator()
	}
	return &Serializer{validator: v}
}

// Marshal validates and encodes an envelope to JSON.
func (s *Serializer) Marshal(e Event) ([]byte, error) {
	if err := s.validator.Validate(&e); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, kiterr.E(kiterr.Op("event.Marshal"), kiterr.Component("event"), kiterr.KindValidation, err)
	}
	return b, nil
}

// Unmarshal decodes an envelope from JSON and re-validates it.
func (s *Serializer) Unmarshal(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, kiterr.E(kiterr.Op("event.Unmarshal"), kiterr.Component("event"), kiterr.KindValidation, err)
	}
	if err := s.validator.Validate(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}
