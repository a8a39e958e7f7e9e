package ai

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                       `{"a":1}`,
		"```json\n{\"a\":1}\n```":         `{"a":1}`,
		"```\n{\"a\":1}\n```":             `{"a":1}`,
		"  \n```json\n{\"a\":1}\n```\n  ": `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeJSONValidatesClassification(t *testing.T) {
	good := "```json\n{\"document_type\": \"invoice\", \"confidence\": 0.91}\n```"
	if _, err := decodeJSON(good, classificationSchema); err != nil {
		t.Errorf("valid classification rejected: %v", err)
	}

	badType := `{"document_type": "memo", "confidence": 0.5}`
	if _, err := decodeJSON(badType, classificationSchema); err == nil {
		t.Error("type outside the closed set should be rejected")
	}

	badConfidence := `{"document_type": "invoice", "confidence": 1.7}`
	if _, err := decodeJSON(badConfidence, classificationSchema); err == nil {
		t.Error("confidence above 1 should be rejected")
	}

	notJSON := "the document appears to be an invoice"
	if _, err := decodeJSON(notJSON, classificationSchema); err == nil {
		t.Error("prose reply should be rejected")
	}
}

func TestTruncateMiddleShortTextUntouched(t *testing.T) {
	text := "short document"
	if got := TruncateMiddle(text, 100); got != text {
		t.Errorf("short text modified: %q", got)
	}
}

func TestTruncateMiddleKeepsHeadAndTail(t *testing.T) {
	head := strings.Repeat("H", 500)
	middle := strings.Repeat("M", 5000)
	tail := strings.Repeat("T", 500)
	text := head + middle + tail

	got := TruncateMiddle(text, 1000)
	if len(got) > 1000 {
		t.Fatalf("truncated length %d exceeds bound", len(got))
	}
	if !strings.HasPrefix(got, "HHHH") {
		t.Error("head window lost")
	}
	if !strings.HasSuffix(got, "TTTT") {
		t.Error("tail window lost")
	}
	if !strings.Contains(got, "truncated due to length") {
		t.Error("truncation marker missing")
	}
}

func TestTruncateMiddleRespectsRuneBoundaries(t *testing.T) {
	// Three-byte runes throughout, so two of every three byte offsets sit
	// inside a rune and a byte-indexed cut would produce invalid UTF-8.
	text := strings.Repeat("日本語テキスト", 200)
	for max := 10; max <= 150; max++ {
		got := TruncateMiddle(text, max)
		if len(got) > max {
			t.Errorf("maxChars=%d: truncated length %d exceeds bound", max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Errorf("maxChars=%d: truncation split a rune: %q", max, got)
		}
	}
}

func TestFieldsForUnknownTypeUsesGenericFields(t *testing.T) {
	fields := fieldsFor("unknown")
	if len(fields) == 0 {
		t.Fatal("generic field list is empty")
	}
}
