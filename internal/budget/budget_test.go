package budget

import (
	"strings"
	"testing"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_Check_WithinLimits(t *testing.T) {
	t.Parallel()
	r := Check([]string{"abcdefgh", "abcd", ""}, DefaultLimits())
	if r.Texts != 3 || r.Tokens != 3 || r.Largest != 2 {
		t.Errorf("unexpected report: %+v", r)
	}
	if !r.WithinLimits() {
		t.Errorf("small batch must be within limits: %+v", r)
	}
}

func Test_Check_OversizedInput(t *testing.T) {
	t.Parallel()
	texts := []string{"short", strings.Repeat("x", 4*20), "tiny"}
	r := Check(texts, Limits{MaxInputTokens: 10})
	if len(r.Oversized) != 1 || r.Oversized[0] != 1 {
		t.Errorf("want index 1 oversized, got %v", r.Oversized)
	}
	if r.WithinLimits() {
		t.Error("oversized input must fail WithinLimits")
	}
}

func Test_Check_OverRequest(t *testing.T) {
	t.Parallel()
	texts := []string{strings.Repeat("x", 40), strings.Repeat("y", 40)}
	r := Check(texts, Limits{MaxRequestTokens: 15})
	if !r.OverRequest || r.Tokens != 20 {
		t.Errorf("want over-request with 20 tokens, got %+v", r)
	}
}

func Test_Check_ZeroLimitsNotEnforced(t *testing.T) {
	t.Parallel()
	r := Check([]string{strings.Repeat("x", 1_000_000)}, Limits{})
	if !r.WithinLimits() {
		t.Errorf("zero limits must not be enforced: %+v", r)
	}
}
