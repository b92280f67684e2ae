package game

import (
	"bytes"
	"encoding/json"
)

// MergeRules applies a partial rule set to cur and returns the result. Nested
// objects merge key by key, so {"flipRestrictions": {"actionLockEnabled": false}}
// changes one flag and leaves its siblings alone. Unknown keys and mistyped
// values are rejected and cur is left untouched.
func MergeRules[T any](cur T, patch map[string]any) (T, error) {
	var zero T

	raw, err := json.Marshal(cur)
	if err != nil {
		return zero, err
	}
	var base map[string]any
	if err := json.Unmarshal(raw, &base); err != nil {
		return zero, err
	}

	mergeInto(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return zero, ErrInvalidRules.Errorf("rules are not serializable: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	var next T
	if err := dec.Decode(&next); err != nil {
		return zero, ErrInvalidRules.Errorf("%v", err)
	}
	return next, nil
}

func mergeInto(dst, patch map[string]any) {
	for k, v := range patch {
		sub, isMap := v.(map[string]any)
		cur, curIsMap := dst[k].(map[string]any)
		if isMap && curIsMap {
			mergeInto(cur, sub)
			continue
		}
		dst[k] = v
	}
}

// RulesMessage is the broadcast sent after a rule update.
type RulesMessage struct {
	Type  string `json:"type"`
	Rules any    `json:"rules"`
}
