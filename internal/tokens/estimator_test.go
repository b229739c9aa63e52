package tokens

import "testing"

func TestApproximateCountEmpty(t *testing.T) {
	c := ApproximateCounter{}
	if got := c.Count(""); got != 0 {
		t.Errorf("empty text should count 0 tokens, got %d", got)
	}
}

func TestApproximateCountLatin(t *testing.T) {
	c := ApproximateCounter{}

	// 8 non-CJK chars: floor(8/4) + 1 = 3
	if got := c.Count("hellobye"); got != 3 {
		t.Errorf("expected 3 tokens for 8 latin chars, got %d", got)
	}

	// 1 char: floor(1/4) + 1 = 1
	if got := c.Count("a"); got != 1 {
		t.Errorf("expected 1 token for single char, got %d", got)
	}
}

func TestApproximateCountCJK(t *testing.T) {
	c := ApproximateCounter{}

	// 3 CJK chars: floor(3/1.5) + 1 = 3
	if got := c.Count("你好吗"); got != 3 {
		t.Errorf("expected 3 tokens for 3 CJK chars, got %d", got)
	}

	// Hiragana and Katakana count as CJK too: floor(4/1.5) + 1 = 3
	if got := c.Count("ひらカタ"); got != 3 {
		t.Errorf("kana count mismatch: got %d, want 3", got)
	}
}

func TestApproximateCountMixed(t *testing.T) {
	c := ApproximateCounter{}

	// 2 CJK + 4 latin: floor(2/1.5 + 4/4) = floor(2.333) = 2, +1 = 3
	if got := c.Count("你好test"); got != 3 {
		t.Errorf("expected 3 tokens for mixed text, got %d", got)
	}
}

func TestIsCJKBoundaries(t *testing.T) {
	cases := []struct {
		r    rune
		want bool
	}{
		{0x4E00, true},
		{0x9FFF, true},
		{0x4DFF, false},
		{0x3040, true},
		{0x309F, true},
		{0x30A0, true},
		{0x30FF, true},
		{0x3100, false},
		{'a', false},
	}
	for _, tc := range cases {
		if got := isCJK(tc.r); got != tc.want {
			t.Errorf("isCJK(%U) = %v, want %v", tc.r, got, tc.want)
		}
	}
}

func TestNewCounterFallback(t *testing.T) {
	if _, ok := NewCounter("approximate").(ApproximateCounter); !ok {
		t.Error("approximate method should return ApproximateCounter")
	}
	if _, ok := NewCounter("").(ApproximateCounter); !ok {
		t.Error("empty method should return ApproximateCounter")
	}
}
