package resolve

import "fmt"

// threeWayMerge reconciles local and remote against their common ancestor.
// Conflicts are recorded and resolved preferring local; the merged value is
// always produced.
func threeWayMerge(base, local, remote interface{}) MergeResult {
	if bs, ok := base.(string); ok {
		ls, lOK := local.(string)
		rs, rOK := remote.(string)
		if lOK && rOK {
			return threeWayStrings(bs, ls, rs)
		}
	}

	bo, bOK := base.(map[string]interface{})
	lo, lOK := local.(map[string]interface{})
	ro, rOK := remote.(map[string]interface{})
	if bOK && lOK && rOK {
		return threeWayObjects(bo, lo, ro)
	}
	if base == nil && lOK && rOK {
		return threeWayObjects(map[string]interface{}{}, lo, ro)
	}

	// Shapes disagree; fall back to the two-way rules.
	return mergeContent(local, remote)
}

// threeWayStrings treats each branch's edit as a whole-text replacement of
// the base. Both branches replacing the base counts as a position collision;
// local wins and the collision is recorded. This is a simplified placeholder
// rather than character-level merging.
func threeWayStrings(base, local, remote string) MergeResult {
	localChanged := local != base
	remoteChanged := remote != base

	switch {
	case !localChanged && !remoteChanged:
		return MergeResult{Success: true, MergedValue: base}
	case localChanged && !remoteChanged:
		return MergeResult{Success: true, MergedValue: local}
	case !localChanged && remoteChanged:
		return MergeResult{Success: true, MergedValue: remote}
	case local == remote:
		return MergeResult{Success: true, MergedValue: local}
	default:
		return MergeResult{
			Success:     false,
			MergedValue: local,
			Conflicts:   []string{"both sides replaced the text, local kept"},
		}
	}
}

// threeWayObjects reconciles key by key over the union of all three key
// sets. Per key: identical additions keep; divergent additions or divergent
// modifications conflict, preferring local; a deletion on one side is
// respected unless the other side modified the value, in which case the
// modification is kept and the conflict recorded.
func threeWayObjects(base, local, remote map[string]interface{}) MergeResult {
	keys := make(map[string]struct{}, len(base)+len(local)+len(remote))
	for k := range base {
		keys[k] = struct{}{}
	}
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range remote {
		keys[k] = struct{}{}
	}

	merged := make(map[string]interface{}, len(keys))
	var conflicts []string

	for k := range keys {
		bv, inBase := base[k]
		lv, inLocal := local[k]
		rv, inRemote := remote[k]

		if !inBase {
			switch {
			case inLocal && inRemote && jsonEqual(lv, rv):
				merged[k] = lv
			case inLocal && inRemote:
				merged[k] = lv
				conflicts = append(conflicts, fmt.Sprintf("key %q added differently on both sides, local kept", k))
			case inLocal:
				merged[k] = lv
			case inRemote:
				merged[k] = rv
			}
			continue
		}

		localModified := inLocal && !jsonEqual(lv, bv)
		remoteModified := inRemote && !jsonEqual(rv, bv)

		switch {
		case !inLocal && !inRemote:
			// Deleted in both.
		case !inLocal && remoteModified:
			merged[k] = rv
			conflicts = append(conflicts, fmt.Sprintf("key %q deleted locally but modified remotely, modification kept", k))
		case !inLocal:
			// Deleted locally, unmodified remotely: respect the deletion.
		case !inRemote && localModified:
			merged[k] = lv
			conflicts = append(conflicts, fmt.Sprintf("key %q deleted remotely but modified locally, modification kept", k))
		case !inRemote:
			// Deleted remotely, unmodified locally.
		case localModified && remoteModified && jsonEqual(lv, rv):
			merged[k] = lv
		case localModified && remoteModified:
			merged[k] = lv
			conflicts = append(conflicts, fmt.Sprintf("key %q modified differently on both sides, local kept", k))
		case localModified:
			merged[k] = lv
		case remoteModified:
			merged[k] = rv
		default:
			merged[k] = bv
		}
	}

	return MergeResult{
		Success:     len(conflicts) == 0,
		MergedValue: merged,
		Conflicts:   conflicts,
	}
}
