package logsink

import (
	"fmt"
	"unicode/utf8"
)

const markerFormat = "\n\n... [LOGS TRUNCATED: %d characters removed from the middle] ...\n\n"

func marker(removed int) string {
	return fmt.Sprintf(markerFormat, removed)
}

// Truncate caps s at budget bytes. When s is longer, an exact head and an exact tail are kept
// and the middle is replaced by one marker carrying the number of removed characters.
func Truncate(s string, budget int, headShare float64) string {
	return elide(s, 0, 0, budget, headShare)
}

// elide works on s as if gapRunes characters were already missing at byte offset gapAt.
// Head bytes are only taken before gapAt and tail bytes only after it.
func elide(s string, gapAt, gapRunes, budget int, headShare float64) string {
	if gapRunes == 0 && len(s) <= budget {
		return s
	}
	if gapRunes == 0 {
		gapAt = len(s)
	}
	if headShare <= 0 || headShare >= 1 {
		headShare = 0.1
	}

	removed := gapRunes
	var out string
	// The marker length depends on the digit count of the removed total, so settle on a
	// fixed point; it converges after at most a couple of rounds.
	for i := 0; i < 8; i++ {
		m := marker(removed)
		avail := budget - len(m)
		if avail < 0 {
			if budget <= 0 {
				return ""
			}
			return m[:budget]
		}

		headN := int(float64(avail) * headShare)
		if headN > gapAt {
			headN = gapAt
		}
		headN = floorBoundary(s, headN)

		tailN := avail - headN
		if maxTail := len(s) - gapAt; gapRunes > 0 && tailN > maxTail {
			tailN = maxTail
			headN = floorBoundary(s, min(gapAt, avail-tailN))
		}
		if tailN > len(s)-headN {
			tailN = len(s) - headN
		}
		tailStart := ceilBoundary(s, len(s)-tailN)

		total := gapRunes + utf8.RuneCountInString(s[headN:tailStart])
		out = s[:headN] + marker(total) + s[tailStart:]
		if total == removed && len(out) <= budget {
			return out
		}
		removed = total
	}
	if len(out) > budget {
		out = out[:floorBoundary(out, budget)]
	}
	return out
}

func floorBoundary(s string, i int) int {
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

func ceilBoundary(s string, i int) int {
	if i <= 0 {
		return 0
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
