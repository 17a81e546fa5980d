package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/handoff/internal/ir"
)

// marshalData converts outcome data to JSON TEXT for storage.
// Keys are written in RFC 8785 order so stored rows diff cleanly.
func marshalData(data ir.IRObject) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := data.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(b), nil
}

// unmarshalData parses stored JSON TEXT into an IRObject.
func unmarshalData(text string) (ir.IRObject, error) {
	if text == "" || text == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return obj, nil
}

// marshalMetadata converts operation metadata to JSON TEXT.
// encoding/json sorts map keys, which keeps the column deterministic.
func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(text string) (map[string]string, error) {
	if text == "" || text == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}
