package reply

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	boldUpperA = 0x1D5D4
	boldLowerA = 0x1D5EE
	boldZero   = 0x1D7EC
)

// Emphasize rewrites **bold** markdown spans into Unicode sans-serif bold so
// they render on surfaces without markdown support. Nested spans collapse
// into their outermost span.
func Emphasize(text string) string {
	// each changing pass removes at least one marker pair, so this terminates
	for strings.Contains(text, "**") {
		next := emphasizeOnce(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

type boldMarker struct {
	pos      int
	canOpen  bool
	canClose bool
}

type boldSpan struct {
	open, close int
	// byte offsets of nested markers to drop from the span
	inner []int
}

func emphasizeOnce(text string) string {
	spans := pairBoldMarkers(scanBoldMarkers(text))
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) * 2)
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp.open])
		b.WriteString(ToBold(dropMarkers(text, sp)))
		last = sp.close + 2
	}
	b.WriteString(text[last:])
	return b.String()
}

// scanBoldMarkers finds non-overlapping "**" markers left to right. A marker
// can open a span when followed by a non-space rune and close one when
// preceded by a non-space rune.
func scanBoldMarkers(text string) []boldMarker {
	var markers []boldMarker
	for i := 0; i+1 < len(text); {
		if text[i] != '*' || text[i+1] != '*' {
			i++
			continue
		}
		m := boldMarker{pos: i}
		if i+2 < len(text) {
			after, _ := utf8.DecodeRuneInString(text[i+2:])
			m.canOpen = !unicode.IsSpace(after)
		}
		if i > 0 {
			before, _ := utf8.DecodeLastRuneInString(text[:i])
			m.canClose = !unicode.IsSpace(before)
		}
		markers = append(markers, m)
		i += 2
	}
	return markers
}

// pairBoldMarkers matches closers against the innermost open marker and
// returns the outermost spans in order. Empty spans are never formed.
func pairBoldMarkers(markers []boldMarker) []boldSpan {
	var spans []boldSpan
	var open []int
	for _, m := range markers {
		if m.canClose && len(open) > 0 && m.pos > open[len(open)-1]+2 {
			start := open[len(open)-1]
			open = open[:len(open)-1]
			var inner []int
			for len(spans) > 0 && spans[len(spans)-1].open > start {
				nested := spans[len(spans)-1]
				inner = append(inner, nested.open, nested.close)
				inner = append(inner, nested.inner...)
				spans = spans[:len(spans)-1]
			}
			spans = append(spans, boldSpan{open: start, close: m.pos, inner: inner})
			continue
		}
		if m.canOpen {
			open = append(open, m.pos)
		}
	}
	return spans
}

func dropMarkers(text string, sp boldSpan) string {
	inner := append([]int(nil), sp.inner...)
	sort.Ints(inner)
	var b strings.Builder
	from := sp.open + 2
	for _, pos := range inner {
		b.WriteString(text[from:pos])
		from = pos + 2
	}
	b.WriteString(text[from:sp.close])
	return b.String()
}

// ToBold maps ASCII letters and digits to their bold form. Other runes,
// including already-bold ones, pass through.
func ToBold(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, r := range s {
		b.WriteRune(boldRune(r))
	}
	return b.String()
}

func boldRune(r rune) rune {
	switch {
	case r >= 'A' && r <= 'Z':
		return boldUpperA + (r - 'A')
	case r >= 'a' && r <= 'z':
		return boldLowerA + (r - 'a')
	case r >= '0' && r <= '9':
		return boldZero + (r - '0')
	default:
		return r
	}
}

// plainDigit maps a plain or bold digit to its value.
func plainDigit(r rune) (int, bool) {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0'), true
	case r >= boldZero && r <= boldZero+9:
		return int(r - boldZero), true
	default:
		return 0, false
	}
}
