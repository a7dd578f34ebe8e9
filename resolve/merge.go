package resolve

import (
	"encoding/json"
	"fmt"
)

// mergeContent merges two content values with type-directed rules.
func mergeContent(local, remote interface{}) MergeResult {
	if ls, ok := local.(string); ok {
		if rs, ok := remote.(string); ok {
			return mergeStrings(ls, rs)
		}
	}
	if lo, ok := local.(map[string]interface{}); ok {
		if ro, ok := remote.(map[string]interface{}); ok {
			return mergeObjects(lo, ro)
		}
	}
	if la, ok := local.([]interface{}); ok {
		if ra, ok := remote.([]interface{}); ok {
			return mergeArrays(la, ra)
		}
	}
	return MergeResult{
		Success:   false,
		Conflicts: []string{fmt.Sprintf("cannot merge values of types %T and %T", local, remote)},
	}
}

// mergeStrings succeeds trivially for identical strings. Divergent strings
// fall back to a concatenation with a warning; this is deliberately
// conservative, not a diff/patch.
func mergeStrings(local, remote string) MergeResult {
	if local == remote {
		return MergeResult{Success: true, MergedValue: local}
	}
	return MergeResult{
		Success:     true,
		MergedValue: local + "\n" + remote,
		Warnings:    []string{"divergent strings concatenated, manual review recommended"},
	}
}

// mergeObjects performs a shallow per-key union. A key present on both
// sides with different values recurses when both values are objects,
// otherwise the remote value wins with a warning.
func mergeObjects(local, remote map[string]interface{}) MergeResult {
	merged := make(map[string]interface{}, len(local)+len(remote))
	for k, v := range local {
		merged[k] = v
	}

	var warnings []string
	var conflicts []string
	for k, rv := range remote {
		lv, ok := merged[k]
		if !ok {
			merged[k] = rv
			continue
		}
		if jsonEqual(lv, rv) {
			continue
		}
		lm, lIsMap := lv.(map[string]interface{})
		rm, rIsMap := rv.(map[string]interface{})
		if lIsMap && rIsMap {
			sub := mergeObjects(lm, rm)
			merged[k] = sub.MergedValue
			warnings = append(warnings, sub.Warnings...)
			conflicts = append(conflicts, sub.Conflicts...)
			continue
		}
		merged[k] = rv
		warnings = append(warnings, fmt.Sprintf("key %q differs, remote value kept", k))
	}

	return MergeResult{
		Success:     len(conflicts) == 0,
		MergedValue: merged,
		Conflicts:   conflicts,
		Warnings:    warnings,
	}
}

// mergeArrays unions the two arrays by JSON equality, keeping local order
// and appending remote-only items.
func mergeArrays(local, remote []interface{}) MergeResult {
	merged := make([]interface{}, 0, len(local)+len(remote))
	merged = append(merged, local...)

	for _, rv := range remote {
		found := false
		for _, lv := range local {
			if jsonEqual(lv, rv) {
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, rv)
		}
	}
	return MergeResult{Success: true, MergedValue: merged}
}

// Structural sub-fields a merge will attempt to combine.
var structuralFields = []string{"position", "properties"}

// mergeStructural combines non-conflicting position and properties
// sub-fields. It fails, listing the conflicts, if both sides changed the
// same sub-field incompatibly.
func mergeStructural(local, remote interface{}) MergeResult {
	lo, lOK := local.(map[string]interface{})
	ro, rOK := remote.(map[string]interface{})
	if !lOK || !rOK {
		return MergeResult{
			Success:   false,
			Conflicts: []string{"structural merge requires object values on both sides"},
		}
	}

	merged := make(map[string]interface{}, len(lo))
	for k, v := range lo {
		merged[k] = v
	}
	for k, v := range ro {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}

	var conflicts []string
	for _, field := range structuralFields {
		lv, lHas := lo[field]
		rv, rHas := ro[field]
		switch {
		case lHas && rHas && !jsonEqual(lv, rv):
			conflicts = append(conflicts, fmt.Sprintf("both sides changed %q incompatibly", field))
		case rHas && !lHas:
			merged[field] = rv
		}
	}

	if len(conflicts) > 0 {
		return MergeResult{Success: false, Conflicts: conflicts}
	}
	return MergeResult{Success: true, MergedValue: merged}
}

// jsonEqual compares two values by their JSON encodings. Marshal failures
// compare unequal.
func jsonEqual(a, b interface{}) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
