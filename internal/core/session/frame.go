package session

import "strings"

// MaxCodeLength bounds where the frame delimiter is looked for. Device codes
// must be shorter than this or their frames cannot be routed.
const MaxCodeLength = 32

// ValidCode reports whether frames addressed to code can be routed.
func ValidCode(code string) bool {
	return code != "" && len(code) < MaxCodeLength && !strings.Contains(code, "#")
}

// EncodeFrame builds the bus frame "{code}#{payload}".
func EncodeFrame(code, payload string) string {
	return code + "#" + payload
}

// SplitFrame splits a bus frame at the first '#' found within the first
// MaxCodeLength bytes. A '#' inside the payload never moves the split point.
func SplitFrame(frame string) (code, payload string, ok bool) {
	head := frame
	if len(head) > MaxCodeLength {
		head = head[:MaxCodeLength]
	}
	p := strings.IndexByte(head, '#')
	if p <= 0 {
		return "", "", false
	}
	return frame[:p], frame[p+1:], true
}
