package capability

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ankleBowl/LucyServer/internal/message"
)

// Serialize converts a tool result to its canonical string form: nil
// becomes the empty string, maps, slices, and structs become compact
// JSON, and everything else takes its natural string form.
func Serialize(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case error:
		return t.Error(), nil
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("serialize tool result: %w", err)
		}
		return string(data), nil
	}

	return fmt.Sprintf("%v", v), nil
}

// splitSequence separates a sequence result into its canonical head and
// the extra follow-up Messages. A handler signals a multi-message
// result by returning []any: the first element is the canonical result
// and later elements are Messages (or values serialized into
// tool_response Messages).
func splitSequence(result any) (any, []message.Message, error) {
	seq, ok := result.([]any)
	if !ok || len(seq) == 0 {
		return result, nil, nil
	}

	var extras []message.Message
	for _, item := range seq[1:] {
		if m, ok := item.(message.Message); ok {
			extras = append(extras, m)
			continue
		}
		s, err := Serialize(item)
		if err != nil {
			return nil, nil, err
		}
		extras = append(extras, message.New(message.KindToolResponse, s))
	}
	return seq[0], extras, nil
}
