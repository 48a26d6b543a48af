package minerapi

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Fix is one textual repair applied to a raw response before parsing.
// Every fix must leave well-formed compact JSON untouched.
type Fix struct {
	Name  string
	Apply func(string) string
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*}`)
	adjacentObjRe   = regexp.MustCompile(`}\s*{`)
	leadingCommaRe  = regexp.MustCompile(`\[\s*,\s*{`)
	nonFiniteRe     = regexp.MustCompile(`(?i)[-+]?\b(?:infinity|inf|nan)\b`)
)

// Fixes is the ordered repair pipeline. New firmware quirks are appended here.
var Fixes = []Fix{
	{Name: "strip-nul", Apply: stripTrailingNUL},
	{Name: "trailing-comma", Apply: outsideStrings(func(s string) string {
		return trailingCommaRe.ReplaceAllString(s, "}")
	})},
	{Name: "strip-newlines", Apply: func(s string) string {
		return strings.NewReplacer("\r", "", "\n", "").Replace(s)
	}},
	{Name: "adjacent-objects", Apply: outsideStrings(func(s string) string {
		return adjacentObjRe.ReplaceAllString(s, "},{")
	})},
	{Name: "leading-array-comma", Apply: outsideStrings(func(s string) string {
		return leadingCommaRe.ReplaceAllString(s, "[{")
	})},
	{Name: "non-finite-numbers", Apply: outsideStrings(func(s string) string {
		return nonFiniteRe.ReplaceAllString(s, "0")
	})},
	{Name: "leading-comma", Apply: wrapLeadingComma},
	{Name: "truncated-object", Apply: closeTruncated},
}

// Sanitize repairs a raw response into text the JSON parser accepts.
// Input that already parses is returned unchanged.
func Sanitize(raw []byte) (string, error) {
	text := stripTrailingNUL(string(raw))
	if json.Valid([]byte(text)) {
		return text, nil
	}

	for _, fix := range Fixes {
		text = fix.Apply(text)
	}

	if !json.Valid([]byte(text)) {
		var probe any
		err := json.Unmarshal([]byte(text), &probe)
		if err == nil {
			err = fmt.Errorf("invalid JSON")
		}
		return "", &DecodeError{Text: text, Err: err}
	}
	return text, nil
}

// Decode sanitizes raw and parses it into a Response.
func Decode(raw []byte) (Response, error) {
	text, err := Sanitize(raw)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, &DecodeError{Text: text, Err: err}
	}
	if resp == nil {
		return nil, &DecodeError{Text: text, Err: fmt.Errorf("response is not a JSON object")}
	}
	return resp, nil
}

func stripTrailingNUL(s string) string {
	return strings.TrimSuffix(s, "\x00")
}

func wrapLeadingComma(s string) string {
	if strings.HasPrefix(s, ",") {
		return "{" + s[1:]
	}
	return s
}

// closeTruncated cuts a buffer that overflowed on the device back to the last
// complete member of the top-level object and closes it.
func closeTruncated(s string) string {
	s = strings.TrimRight(s, " \t")
	if s == "" || strings.HasSuffix(s, "}") {
		return s
	}

	cut := -1
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case ',':
			if depth == 1 {
				cut = i
			}
		}
	}

	if cut < 0 {
		return s + "}"
	}
	return s[:cut] + "}"
}

// outsideStrings applies fn only to the parts of s that are not inside JSON string literals.
func outsideStrings(fn func(string) string) func(string) string {
	return func(s string) string {
		if !strings.Contains(s, `"`) {
			return fn(s)
		}

		var out strings.Builder
		out.Grow(len(s))

		start := 0
		inString, escaped := false, false
		for i := 0; i < len(s); i++ {
			ch := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
					out.WriteString(s[start : i+1])
					start = i + 1
				}
				continue
			}
			if ch == '"' {
				out.WriteString(fn(s[start:i]))
				start = i
				inString = true
			}
		}

		if inString {
			out.WriteString(s[start:])
		} else {
			out.WriteString(fn(s[start:]))
		}
		return out.String()
	}
}
