package parser

import (
	"strings"
	"unicode/utf8"
)

// ContentTypePlainText is the single content type the plain-text variant
// requests from the queue and declares as its capability.
const ContentTypePlainText = "vectorize_text/plain; charset=utf-8"

// PlainText decodes payloads as UTF-8, replacing invalid sequences with
// the replacement character instead of failing. Parse never returns an
// error for malformed encoding.
type PlainText struct{}

// Parse decodes raw as UTF-8 text.
func (PlainText) Parse(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), nil
}

// SupportedTypes returns the content types this variant handles.
func (PlainText) SupportedTypes() []string {
	return []string{ContentTypePlainText}
}
