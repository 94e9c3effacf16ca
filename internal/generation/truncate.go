package generation

import "unicode"

// Truncate limits text to max characters (runes). When the hard cut point is
// reached, it prefers to end at a sentence boundary that lies within the last
// 20% of the budget, and otherwise cuts at exactly max. The bool reports
// whether anything was removed.
func Truncate(text string, max int) (string, bool) {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text, false
	}

	floor := max - max/5
	for i := max - 1; i >= floor; i-- {
		if isSentenceEnd(runes, i) {
			return string(runes[:i+1]), true
		}
	}
	return string(runes[:max]), true
}

// isSentenceEnd reports whether runes[i] is terminal punctuation followed by
// whitespace.
func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?', '…':
	default:
		return false
	}
	return i+1 < len(runes) && unicode.IsSpace(runes[i+1])
}
