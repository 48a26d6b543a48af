package minerapi

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Status codes reported by the miner API.
const (
	StatusSuccess       = "S"
	StatusInformational = "I"
	StatusRestart       = "RESTART"
)

const msgMalformed = "malformed response"

// Response is a parsed API response. Either single-command (top-level "STATUS")
// or aggregated (one array of payloads per command name, plus "id").
type Response map[string]any

type Shape int

const (
	ShapeInvalid Shape = iota
	ShapeSingle
	ShapeAggregated
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeAggregated:
		return "aggregated"
	default:
		return "invalid"
	}
}

// Shape classifies the envelope.
func (r Response) Shape() Shape {
	if status, ok := r["STATUS"]; ok {
		switch status.(type) {
		case []any, string:
			return ShapeSingle
		}
		return ShapeInvalid
	}

	keys := 0
	for key, value := range r {
		if key == "id" {
			continue
		}
		if _, ok := firstPayload(value); !ok {
			return ShapeInvalid
		}
		keys++
	}
	if keys == 0 {
		return ShapeInvalid
	}
	return ShapeAggregated
}

// Commands returns the command keys of an aggregated response in sorted order.
func (r Response) Commands() []string {
	keys := make([]string, 0, len(r))
	for key := range r {
		if key != "id" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Payload returns the first payload stored under an aggregated command key.
func (r Response) Payload(command string) (Response, bool) {
	value, ok := r[command]
	if !ok {
		return nil, false
	}
	return firstPayload(value)
}

// Section returns the array stored under key (e.g. "SUMMARY", "POOLS") as objects.
func (r Response) Section(key string) []map[string]any {
	items, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Validation is the outcome of Validate.
type Validation struct {
	OK      bool
	Message string
}

// Validate classifies a parsed response as success or failure.
func Validate(r Response) Validation {
	switch r.Shape() {
	case ShapeSingle:
		return validateSingle(r)
	case ShapeAggregated:
		for _, key := range r.Commands() {
			payload, _ := r.Payload(key)
			statuses, ok := payload["STATUS"].([]any)
			if !ok {
				continue
			}
			code, msg, ok := firstStatus(statuses)
			if !ok {
				return Validation{Message: fmt.Sprintf("%s: %s", key, msgMalformed)}
			}
			if !isSuccess(code) {
				return Validation{Message: fmt.Sprintf("%s: %s", key, msg)}
			}
		}
		return Validation{OK: true}
	default:
		return Validation{Message: msgMalformed}
	}
}

func validateSingle(r Response) Validation {
	switch status := r["STATUS"].(type) {
	case string:
		// btminer answers with a bare status string and a top-level Msg
		if status == StatusRestart || isSuccess(status) {
			return Validation{OK: true}
		}
		return Validation{Message: messageText(r["Msg"])}
	case []any:
		code, msg, ok := firstStatus(status)
		if !ok {
			return Validation{Message: msgMalformed}
		}
		if isSuccess(code) {
			return Validation{OK: true}
		}
		return Validation{Message: msg}
	}
	return Validation{Message: msgMalformed}
}

func firstStatus(statuses []any) (code, msg string, ok bool) {
	if len(statuses) == 0 {
		return "", "", false
	}
	entry, isObj := statuses[0].(map[string]any)
	if !isObj {
		return "", "", false
	}
	code, ok = entry["STATUS"].(string)
	if !ok {
		return "", "", false
	}
	return code, messageText(entry["Msg"]), true
}

func firstPayload(value any) (Response, bool) {
	items, ok := value.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	obj, ok := items[0].(map[string]any)
	if !ok {
		return nil, false
	}
	return Response(obj), true
}

func isSuccess(code string) bool {
	return code == StatusSuccess || code == StatusInformational
}

func messageText(v any) string {
	switch msg := v.(type) {
	case nil:
		return ""
	case string:
		return msg
	default:
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Sprint(msg)
		}
		return string(data)
	}
}
