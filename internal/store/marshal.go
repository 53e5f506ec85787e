package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

// marshalAttributes converts IRObject to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalAttributes(attrs ir.IRObject) (string, error) {
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalAttributes parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which keeps large integers exact.
func unmarshalAttributes(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return obj, nil
}

// marshalIDs stores resource ids in their string form.
func marshalIDs(ids []model.ResourceID) (string, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return marshalStrings(strs)
}

func unmarshalIDs(data string) ([]model.ResourceID, error) {
	strs, err := unmarshalStrings(data)
	if err != nil {
		return nil, err
	}
	if len(strs) == 0 {
		return nil, nil
	}
	ids := make([]model.ResourceID, len(strs))
	for i, s := range strs {
		id, err := model.ParseResourceID(s)
		if err != nil {
			return nil, fmt.Errorf("unmarshal requires: %w", err)
		}
		ids[i] = id
	}
	return ids, nil
}

func marshalStrings(strs []string) (string, error) {
	if strs == nil {
		strs = []string{}
	}
	data, err := json.Marshal(strs)
	if err != nil {
		return "", fmt.Errorf("marshal strings: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var strs []string
	if err := json.Unmarshal([]byte(data), &strs); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	return strs, nil
}
