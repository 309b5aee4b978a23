package chunking

import "strings"

const (
	DefaultWindowRunes   = 6000
	DefaultOverlapRunes  = 200
	minBreakSearchFactor = 4
)

// Windower cuts long documents into overlapping rune windows so that each
// field prompt stays within the oracle's context. Texts that fit in one
// window are returned unchanged.
type Windower struct {
	size    int
	overlap int
}

func NewWindower(size, overlap int) *Windower {
	if size <= 0 {
		size = DefaultWindowRunes
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Windower{size: size, overlap: overlap}
}

func (w *Windower) Windows(text string) []string {
	runes := []rune(text)
	if len(runes) <= w.size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var out []string
	for start := 0; start < len(runes); {
		end := start + w.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = lineBreakBefore(runes, start, end, w.size/minBreakSearchFactor)
		}
		if window := strings.TrimSpace(string(runes[start:end])); window != "" {
			out = append(out, window)
		}
		if end == len(runes) {
			break
		}
		next := end - w.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// lineBreakBefore moves end back to just after the closest newline, looking
// at most maxBack runes, so that table rows are not split mid-line.
func lineBreakBefore(runes []rune, start, end, maxBack int) int {
	for i := end - 1; i > start && end-i <= maxBack; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	return end
}
