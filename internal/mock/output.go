package mock

import "fmt"

// BuildOutput generates a deterministic completion for prompt, about four
// characters per token up to maxTokens.
func BuildOutput(prompt string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = 16
	}
	target := maxTokens * 4
	if target > 4096 {
		target = 4096
	}

	s := fmt.Sprintf("Mock answer for: %q\n\n", trim(prompt, 140))
	for len(s) < target {
		s += "[mock-token] "
	}
	return s[:target]
}

// ApproxTokens provides a rough token estimate (4 runes ~= 1 token).
func ApproxTokens(s string) int {
	if s == "" {
		return 0
	}
	r := len([]rune(s))
	return (r + 3) / 4
}

func trim(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
