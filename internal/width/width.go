// Package width implements spec.md §9's "polymorphic display width" note:
// terminal column alignment for streamed progress output, where emoji and
// variable-width glyphs are a known hazard. Grounded on mattn/go-runewidth,
// the library the teacher's own indirect charmbracelet stack already uses
// for this exact problem.
package width

import "github.com/mattn/go-runewidth"

// overrides holds known-problematic sequences whose reported rune width
// disagrees with how terminals actually render them (variation selectors,
// zero-width joiners collapsing emoji sequences into one glyph).
var overrides = map[string]int{
	"✅":         2, // ✅ WHITE HEAVY CHECK MARK
	"❌":         2, // ❌ CROSS MARK
	"⚠️":   2, // ⚠️ WARNING SIGN + variation selector
	"\U0001F680":     2, // 🚀 ROCKET
}

// String returns the terminal display width of s, consulting the override
// table before falling back to go-runewidth's grapheme-aware calculation.
func String(s string) int {
	if w, ok := overrides[s]; ok {
		return w
	}
	return runewidth.StringWidth(s)
}

// Pad right-pads s with spaces until it reaches at least target display
// columns wide.
func Pad(s string, target int) string {
	w := String(s)
	if w >= target {
		return s
	}
	padding := make([]byte, target-w)
	for i := range padding {
		padding[i] = ' '
	}
	return s + string(padding)
}

// Columns computes the column width for a set of labels so that streamed,
// out-of-order completion rows can align: the width is the max display
// width among the labels, per spec.md §4.8's "pre-computed from a
// cheap pre-scan" requirement.
func Columns(labels []string) int {
	max := 0
	for _, l := range labels {
		if w := String(l); w > max {
			max = w
		}
	}
	return max
}
