package translator

import "encoding/json"

// rawJSONToInterface decodes an OpenAI tool-call argument string (JSON
// text) into a generic value suitable for Anthropic's input field. An
// unparsable string is passed through as-is rather than failing the
// whole translation, since some providers emit partial/invalid JSON on
// malformed tool calls.
func rawJSONToInterface(raw string) interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// interfaceToRawJSON encodes an Anthropic tool_use input value back
// into the JSON-text form OpenAI's function-call arguments field uses.
func interfaceToRawJSON(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
