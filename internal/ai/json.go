package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// decodeJSON strips the markdown code fences the model sometimes wraps
// replies in, then validates the payload against the given schema before
// anything downstream trusts it.
func decodeJSON(content string, schema *jsonschema.Schema) ([]byte, error) {
	cleaned := stripCodeFence(content)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("model reply is not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("model reply failed schema validation: %w", err)
	}

	return []byte(cleaned), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// TruncateMiddle enforces the service's input size bound by keeping head and
// tail windows and dropping the middle, preserving header and footer
// metadata that classification leans on. Cut points land on rune boundaries
// so multi-byte text is never split into invalid bytes.
func TruncateMiddle(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}

	marker := "\n\n[... text truncated due to length ...]\n\n"
	budget := maxChars - len(marker)
	if budget < 2 {
		return text[:runeFloor(text, maxChars)]
	}

	head := budget * 2 / 3
	tail := budget - head
	return text[:runeFloor(text, head)] + marker + text[runeCeil(text, len(text)-tail):]
}

// runeFloor rounds a byte offset down to the nearest rune boundary.
func runeFloor(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil rounds a byte offset up to the nearest rune boundary.
func runeCeil(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
