package streamagg

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractText returns the text carried by one streamGenerateContent item.
//
// The text of every part of the first candidate is concatenated in order.
// Parts flagged as model thoughts are left out. ok is false when the item is
// not valid JSON or has no text part at all, e.g. a trailing usage-only item
// or an item that only reports a finish reason.
func ExtractText(item []byte) (text string, ok bool) {
	if !gjson.ValidBytes(item) {
		return "", false
	}
	return extractText(item)
}

func classify(item []byte) (text string, ok, valid bool) {
	if !gjson.ValidBytes(item) {
		return "", false, false
	}
	text, ok = extractText(item)
	return text, ok, true
}

func extractText(item []byte) (string, bool) {
	parts := gjson.GetBytes(item, "candidates.0.content.parts")
	if !parts.IsArray() {
		return "", false
	}
	var sb strings.Builder
	found := false
	parts.ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		t := part.Get("text")
		if t.Type != gjson.String {
			return true
		}
		sb.WriteString(t.String())
		found = true
		return true
	})
	return sb.String(), found
}
