// Package tokens provides token estimation utilities.
//
// The default counter is a deterministic character-weighted approximation:
// CJK text runs denser than Latin text, so CJK codepoints count at 1.5
// chars/token and everything else at 4 chars/token. For precise counts a
// tiktoken-backed counter is available behind the factory.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// MessageOverhead is the per-message structural token cost (role, framing).
const MessageOverhead = 4

// Counter estimates the token count of a text.
type Counter interface {
	Count(text string) int
}

// ApproximateCounter is the deterministic char-based estimator.
type ApproximateCounter struct{}

// Count estimates tokens as floor(cjk/1.5 + other/4) + 1, or 0 for empty input.
func (ApproximateCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}

	return int(float64(cjk)/1.5+float64(other)/4.0) + 1
}

// isCJK reports whether r falls in the CJK Unified Ideographs, Hiragana, or
// Katakana blocks.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF:
		return true
	case r >= 0x3040 && r <= 0x309F:
		return true
	case r >= 0x30A0 && r <= 0x30FF:
		return true
	}
	return false
}

// DefaultEncoding is cl100k_base, used by GPT-4 class models.
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts tokens with a real BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a tiktoken-backed counter.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// Count returns the exact token count under the configured encoding.
func (c *TiktokenCounter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return ApproximateCounter{}.Count(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// NewCounter returns a counter for the given method ("approximate" or
// "tiktoken"). Unknown methods and tiktoken setup failures fall back to the
// approximate counter.
func NewCounter(method string) Counter {
	if method == "tiktoken" {
		c, err := NewTiktokenCounter()
		if err != nil {
			L_warn("tokens: tiktoken unavailable, using approximate counter", "error", err)
			return ApproximateCounter{}
		}
		return c
	}
	return ApproximateCounter{}
}
