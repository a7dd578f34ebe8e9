package event

import (
	"fmt"
	"time"

	kiterr "github.com/c0deZ3R0/collab-kit/errors"
)

// Sanitization limits applied to event payloads.
const (
	// MaxStringLen is the cap applied to every string field in event data.
	MaxStringLen = 10000

	// MaxDepth is the maximum allowed object nesting depth in event data.
	MaxDepth = 10
)

// Validator checks envelope well-formedness and applies per-type payload
// sanitization.
type Validator struct{}

// NewValidator returns a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks required envelope fields, the closed type set, and
// timestamp well-formedness, then dispatches to the per-type sanitizer.
// The event's Data is sanitized in place (string caps applied); malformed
// shapes are rejected with a descriptive error.
func (v *Validator) Validate(e *Event) error {
	const op = kiterr.Op("event.Validate")

	if e.ID == "" {
		return kiterr.E(op, kiterr.Component("event"), kiterr.KindValidation, fmt.Errorf("missing event id"))
	}
	if e.PageName == "" {
		return kiterr.E(op, kiterr.Component("event"), kiterr.KindValidation, fmt.Errorf("missing pageName"))
	}
	if e.UserID == "" {
		return kiterr.E(op, kiterr.Component("event"), kiterr.KindValidation, fmt.Errorf("missing userId"))
	}
	if !knownTypes[e.Type] {
		return kiterr.E(op, kiterr.Component("event"), kiterr.KindValidation, fmt.Errorf("unknown event type %q", e.Type))
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		return kiterr.E(op, kiterr.Component("event"), kiterr.KindValidation, fmt.Errorf("malformed timestamp %q: %w", e.Timestamp, err))
	}

	sanitized, err := v.sanitizeData(e.Type, e.Data)
	if err != nil {
		return kiterr.E(op, kiterr.Component("event"), kiterr.KindValidation, err)
	}
	e.Data = sanitized
	return nil
}

func (v *Validator) sanitizeData(typ Type, data map[string]interface{}) (map[string]interface{}, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if err := checkDepth(data, 1); err != nil {
		return nil, err
	}

	switch typ {
	case TypeContentChange:
		return sanitizeContentChange(data)
	case TypeComponentAdd:
		return sanitizeComponentAdd(data)
	case TypeComponentMove:
		return sanitizeComponentMove(data)
	case TypeComponentDelete:
		return sanitizeComponentDelete(data)
	case TypePageCreate:
		return sanitizePageCreate(data)
	case TypeNavUpdate:
		return sanitizeNavUpdate(data)
	case TypePresenceUpdate:
		return sanitizePresenceUpdate(data)
	case TypeConflictDetected:
		return sanitizeConflictDetected(data)
	}
	return nil, fmt.Errorf("no sanitizer for type %q", typ)
}

func sanitizeContentChange(data map[string]interface{}) (map[string]interface{}, error) {
	key, err := requireString(data, "contentKey")
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"contentKey": key,
		"value":      capStrings(data["value"]),
	}
	if ev, ok := data["expectedVersion"]; ok {
		s, ok := ev.(string)
		if !ok {
			return nil, fmt.Errorf("content_change: expectedVersion must be a string")
		}
		out["expectedVersion"] = capString(s)
	}
	return out, nil
}

func sanitizeComponentAdd(data map[string]interface{}) (map[string]interface{}, error) {
	id, err := requireString(data, "componentId")
	if err != nil {
		return nil, err
	}
	ctype, err := requireString(data, "componentType")
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"componentId":   id,
		"componentType": ctype,
	}
	if pos, ok := data["position"]; ok {
		p, err := sanitizePosition(pos)
		if err != nil {
			return nil, err
		}
		out["position"] = p
	}
	if props, ok := data["properties"]; ok {
		m, ok := props.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("component_add: properties must be an object")
		}
		out["properties"] = capStrings(m)
	}
	return out, nil
}

func sanitizeComponentMove(data map[string]interface{}) (map[string]interface{}, error) {
	id, err := requireString(data, "componentId")
	if err != nil {
		return nil, err
	}
	pos, ok := data["position"]
	if !ok {
		return nil, fmt.Errorf("component_move: missing position")
	}
	p, err := sanitizePosition(pos)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"componentId": id, "position": p}, nil
}

func sanitizeComponentDelete(data map[string]interface{}) (map[string]interface{}, error) {
	id, err := requireString(data, "componentId")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"componentId": id}, nil
}

func sanitizePageCreate(data map[string]interface{}) (map[string]interface{}, error) {
	title, err := requireString(data, "title")
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{"title": title}
	if tmpl, ok := data["template"]; ok {
		s, ok := tmpl.(string)
		if !ok {
			return nil, fmt.Errorf("page_create: template must be a string")
		}
		out["template"] = capString(s)
	}
	return out, nil
}

func sanitizeNavUpdate(data map[string]interface{}) (map[string]interface{}, error) {
	items, ok := data["items"]
	if !ok {
		return nil, fmt.Errorf("nav_update: missing items")
	}
	arr, ok := items.([]interface{})
	if !ok {
		return nil, fmt.Errorf("nav_update: items must be an array")
	}
	return map[string]interface{}{"items": capStrings(arr)}, nil
}

func sanitizePresenceUpdate(data map[string]interface{}) (map[string]interface{}, error) {
	action, err := requireString(data, "action")
	if err != nil {
		return nil, err
	}
	if action != "editing" && action != "idle" && action != "join" && action != "leave" {
		return nil, fmt.Errorf("presence_update: invalid action %q", action)
	}
	userName, err := requireString(data, "userName")
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"action":   action,
		"userName": userName,
	}
	for _, opt := range []string{"componentId", "avatar"} {
		if v, ok := data[opt]; ok {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("presence_update: %s must be a string", opt)
			}
			out[opt] = capString(s)
		}
	}
	return out, nil
}

func sanitizeConflictDetected(data map[string]interface{}) (map[string]interface{}, error) {
	id, err := requireString(data, "conflictId")
	if err != nil {
		return nil, err
	}
	ctype, err := requireString(data, "conflictType")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"conflictId": id, "conflictType": ctype}, nil
}

func sanitizePosition(pos interface{}) (map[string]interface{}, error) {
	m, ok := pos.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("position must be an object")
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch v.(type) {
		case float64, int, int64:
			out[k] = v
		case string:
			out[k] = capString(v.(string))
		default:
			return nil, fmt.Errorf("position field %q must be a number or string", k)
		}
	}
	return out, nil
}

func requireString(data map[string]interface{}, field string) (string, error) {
	raw, ok := data[field]
	if !ok {
		return "", fmt.Errorf("missing %s", field)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s must be a non-empty string", field)
	}
	return capString(s), nil
}

func capString(s string) string {
	if len(s) <= MaxStringLen {
		return s
	}
	// Cap by character count, never splitting a multi-byte rune.
	n := 0
	for i := range s {
		if n == MaxStringLen {
			return s[:i]
		}
		n++
	}
	return s
}

// capStrings walks a decoded JSON value and caps every string it contains.
func capStrings(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return capString(x)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[capString(k)] = capStrings(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = capStrings(val)
		}
		return out
	default:
		return v
	}
}

// checkDepth rejects objects nested deeper than MaxDepth.
func checkDepth(v interface{}, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("event data exceeds maximum nesting depth of %d", MaxDepth)
	}
	switch x := v.(type) {
	case map[string]interface{}:
		for _, val := range x {
			if err := checkDepth(val, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, val := range x {
			if err := checkDepth(val, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
