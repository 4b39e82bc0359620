package reply

import (
	"regexp"
	"strings"

	"github.com/wolfman30/messenger-concierge/internal/chatstore"
)

// BookingSentinel is the literal reply that requests a human hand-off.
const BookingSentinel = "booking"

var payloadBlock = regexp.MustCompile("```json\\s*(\\{[\\s\\S]*?\\})\\s*```")

// ExtractPayload pulls the first fenced json block out of text. The block
// syntax is removed from the returned text, which is trimmed.
func ExtractPayload(text string) (rest, payload string, ok bool) {
	m := payloadBlock.FindStringSubmatch(text)
	if m == nil {
		return strings.TrimSpace(text), "", false
	}
	rest = strings.TrimSpace(payloadBlock.ReplaceAllString(text, ""))
	return rest, strings.TrimSpace(m[1]), true
}

// IsBookingSentinel reports whether text is exactly the booking sentinel.
func IsBookingSentinel(text string) bool {
	return strings.TrimSpace(text) == BookingSentinel
}

// SplitFollowUp partitions blank-line separated blocks: blocks containing a
// keyword (case-insensitive) form the follow-up, the rest the main segment.
func SplitFollowUp(text string, keywords []string) (main, followUp string) {
	blocks := strings.Split(strings.TrimSpace(text), "\n\n")
	var mainBlocks, followBlocks []string
	for _, block := range blocks {
		if containsKeyword(block, keywords) {
			followBlocks = append(followBlocks, block)
		} else {
			mainBlocks = append(mainBlocks, block)
		}
	}
	return strings.Join(mainBlocks, "\n\n"), strings.Join(followBlocks, "\n\n")
}

// FollowUpAlreadySent reports whether any assistant message in history
// contains one of the keywords.
func FollowUpAlreadySent(history []chatstore.Message, keywords []string) bool {
	for _, msg := range history {
		if msg.Role == chatstore.RoleAssistant && containsKeyword(msg.Content, keywords) {
			return true
		}
	}
	return false
}

func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Kind classifies a decomposed segment.
type Kind int

const (
	KindText Kind = iota
	KindPayload
	KindBooking
)

func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindBooking:
		return "booking"
	default:
		return "text"
	}
}

// Decomposition is the dispatch plan for one text segment.
type Decomposition struct {
	Kind Kind
	// Text is the segment with emphasis and price fixes applied and any
	// payload block removed.
	Text    string
	Payload string
	Main    string
	// FollowUp is empty when suppressed.
	FollowUp           string
	FollowUpSuppressed bool
}

// Combined is the single message sent for a payload segment.
func (d Decomposition) Combined() string {
	if d.Payload == "" {
		return d.Text
	}
	return d.Text + "\n\n" + d.Payload
}

// Decomposer holds the configured keyword and price tables.
type Decomposer struct {
	Keywords []string
	Prices   *PriceCorrector
}

// NewDecomposer builds a decomposer. A nil corrector uses the defaults.
func NewDecomposer(keywords []string, prices *PriceCorrector) *Decomposer {
	if prices == nil {
		prices = NewPriceCorrector(0, nil)
	}
	return &Decomposer{Keywords: keywords, Prices: prices}
}

// Decompose runs emphasis, price correction, payload extraction, the
// booking check, the follow-up split and follow-up suppression, in that order.
func (d *Decomposer) Decompose(text string, history []chatstore.Message) Decomposition {
	text = d.Prices.Correct(Emphasize(text))

	rest, payload, ok := ExtractPayload(text)
	if IsBookingSentinel(rest) {
		return Decomposition{Kind: KindBooking, Text: rest}
	}
	if ok {
		return Decomposition{Kind: KindPayload, Text: rest, Payload: payload}
	}

	main, followUp := SplitFollowUp(rest, d.Keywords)
	out := Decomposition{Kind: KindText, Text: rest, Main: main, FollowUp: followUp}
	if strings.TrimSpace(followUp) != "" && FollowUpAlreadySent(history, d.Keywords) {
		out.FollowUp = ""
		out.FollowUpSuppressed = true
	}
	return out
}
