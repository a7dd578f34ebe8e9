package conflict

// Similarity thresholds for content classification.
const (
	similarityAutoMerge = 0.9
	similarityThreeWay  = 0.7
)

// Classify derives severity, category, and a suggested strategy from a
// conflict item. Classification is deterministic and recomputed on demand.
func (d *detector) Classify(item Item) Classification {
	if item.Type == ItemStructure {
		return classifyStructure(item)
	}
	return classifyContent(item)
}

func classifyContent(item Item) Classification {
	localStr, localIsStr := item.LocalVersion.(string)
	remoteStr, remoteIsStr := item.RemoteVersion.(string)

	if localIsStr && remoteIsStr {
		similarity := StringSimilarity(localStr, remoteStr)
		switch {
		case similarity > similarityAutoMerge:
			return Classification{
				Severity:          SeverityLow,
				Category:          CategoryContent,
				AutoResolvable:    true,
				SuggestedStrategy: StrategyMerge,
			}
		case similarity > similarityThreeWay:
			return Classification{
				Severity:          SeverityMedium,
				Category:          CategoryContent,
				AutoResolvable:    true,
				SuggestedStrategy: StrategyThreeWayMerge,
			}
		default:
			return Classification{
				Severity:          SeverityHigh,
				Category:          CategoryContent,
				RequiresUserInput: true,
				SuggestedStrategy: StrategyKeepLocal,
			}
		}
	}

	localObj, localIsObj := item.LocalVersion.(map[string]interface{})
	remoteObj, remoteIsObj := item.RemoteVersion.(map[string]interface{})

	if localIsObj && remoteIsObj {
		if hasStructuralDifferences(localObj, remoteObj) {
			return Classification{
				Severity:          SeverityHigh,
				Category:          CategoryContent,
				RequiresUserInput: true,
				SuggestedStrategy: StrategyKeepLocal,
			}
		}
		return Classification{
			Severity:          SeverityMedium,
			Category:          CategoryContent,
			AutoResolvable:    true,
			SuggestedStrategy: StrategyMerge,
		}
	}

	// Mixed or unknown value shapes: be conservative.
	return Classification{
		Severity:          SeverityHigh,
		Category:          CategoryContent,
		RequiresUserInput: true,
		SuggestedStrategy: StrategyKeepLocal,
	}
}

func classifyStructure(item Item) Classification {
	if item.Metadata.ChangeType == "position" {
		return Classification{
			Severity:          SeverityHigh,
			Category:          CategoryStructure,
			AutoResolvable:    true,
			SuggestedStrategy: StrategyAcceptRemote,
		}
	}
	return Classification{
		Severity:          SeverityHigh,
		Category:          CategoryStructure,
		RequiresUserInput: true,
		SuggestedStrategy: StrategyKeepLocal,
	}
}

// hasStructuralDifferences reports whether the two objects disagree on
// which keys are present, recursing into keys whose values are both objects.
func hasStructuralDifferences(local, remote map[string]interface{}) bool {
	if len(local) != len(remote) {
		return true
	}
	for key, lv := range local {
		rv, ok := remote[key]
		if !ok {
			return true
		}
		lm, lIsMap := lv.(map[string]interface{})
		rm, rIsMap := rv.(map[string]interface{})
		if lIsMap && rIsMap {
			if hasStructuralDifferences(lm, rm) {
				return true
			}
		} else if lIsMap != rIsMap {
			return true
		}
	}
	return false
}
