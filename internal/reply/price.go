package reply

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCanonicalPrice replaces prices the model tends to misquote.
const DefaultCanonicalPrice = 350000

const priceDigit = `[0-9\x{1D7EC}-\x{1D7F5}]`

var priceToken = regexp.MustCompile(`(` + priceDigit + `+(?:\.` + priceDigit + `{3})*)đ/(` + priceDigit + `+)`)

// Band is a half-open price interval [Min, Max).
type Band struct {
	Min int64
	Max int64
}

// Contains reports whether v lies in the band.
func (b Band) Contains(v int64) bool {
	return v >= b.Min && v < b.Max
}

// DefaultBands are the known mis-stated ranges.
var DefaultBands = []Band{
	{Min: 300000, Max: 400000},
	{Min: 3000000, Max: 4000000},
}

// ParseBands reads "min-max,min-max". An empty string yields DefaultBands.
func ParseBands(spec string) ([]Band, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return append([]Band(nil), DefaultBands...), nil
	}
	var bands []Band
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("reply: invalid price band %q", part)
		}
		min, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("reply: invalid price band %q: %w", part, err)
		}
		max, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("reply: invalid price band %q: %w", part, err)
		}
		if max <= min {
			return nil, fmt.Errorf("reply: empty price band %q", part)
		}
		bands = append(bands, Band{Min: min, Max: max})
	}
	return bands, nil
}

// PriceCorrector rewrites single-unit prices that fall in a mis-stated band
// to the canonical price, rendered in bold digits.
type PriceCorrector struct {
	Canonical int64
	Bands     []Band
}

// NewPriceCorrector returns a corrector; zero values fall back to defaults.
func NewPriceCorrector(canonical int64, bands []Band) *PriceCorrector {
	if canonical <= 0 {
		canonical = DefaultCanonicalPrice
	}
	if len(bands) == 0 {
		bands = DefaultBands
	}
	return &PriceCorrector{Canonical: canonical, Bands: bands}
}

// Correct applies the rewrite to every matching token in text.
func (p *PriceCorrector) Correct(text string) string {
	if p == nil || !strings.Contains(text, "đ/") {
		return text
	}
	return priceToken.ReplaceAllStringFunc(text, func(token string) string {
		m := priceToken.FindStringSubmatch(token)
		if m == nil {
			return token
		}
		qty, ok := parseDigits(m[2])
		if !ok || qty != 1 {
			return token
		}
		value, ok := parseDigits(strings.ReplaceAll(m[1], ".", ""))
		if !ok || !p.inBand(value) {
			return token
		}
		return ToBold(groupThousands(p.Canonical)) + "đ/" + ToBold("1")
	})
}

func (p *PriceCorrector) inBand(v int64) bool {
	for _, b := range p.Bands {
		if b.Contains(v) {
			return true
		}
	}
	return false
}

func parseDigits(s string) (int64, bool) {
	var b strings.Builder
	for _, r := range s {
		d, ok := plainDigit(r)
		if !ok {
			return 0, false
		}
		b.WriteByte(byte('0' + d))
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// groupThousands formats 350000 as "350.000".
func groupThousands(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
