package preview

import "unicode/utf8"

// Ellipsis marks text cut from an excerpt.
const Ellipsis = "…"

// runeFloor moves i back to the start of the rune containing it.
func runeFloor(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil moves i forward to the next rune start.
func runeCeil(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	if i <= 0 {
		return 0
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// window returns the bounds of a context window of width chars around [start, end).
func window(s string, start, end, width int) (int, int) {
	from := runeFloor(s, start-width)
	to := runeCeil(s, end+width)
	return from, to
}

// marks returns the ellipsis prefix/suffix for a window of s.
func marks(s string, from, to int) (string, string) {
	var prefix, suffix string
	if from > 0 {
		prefix = Ellipsis
	}
	if to < len(s) {
		suffix = Ellipsis
	}
	return prefix, suffix
}

// tail returns the last width bytes of s (rune aligned), prefixed with an ellipsis if cut.
func tail(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return Ellipsis + s[runeCeil(s, len(s)-width):]
}
