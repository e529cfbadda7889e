package refactor

import "math"

// Metrics are the per-file maintainability scores. Maintainability is
// 0..100 where higher is better; DebtScore is 0..1 where higher is worse.
type Metrics struct {
	Path            string  `json:"path"`
	Language        string  `json:"language,omitempty"`
	LineCount       int     `json:"lineCount"`
	Complexity      int     `json:"complexity"`
	Maintainability float64 `json:"maintainability"`
	DebtScore       float64 `json:"debtScore"`
	Degraded        bool    `json:"degraded,omitempty"`
	SplitCandidate  bool    `json:"splitCandidate"`
}

// maintainabilityIndex is the classic index without the Halstead volume
// term (tree-sitter extraction yields no operator counts), rescaled to
// 0..100. Non-increasing in both lines and complexity.
func maintainabilityIndex(lines, complexity int) float64 {
	l := float64(lines)
	if l < 1 {
		l = 1
	}
	c := float64(complexity)
	if c < 1 {
		c = 1
	}
	raw := 171 - 5.2*math.Log(c) - 0.23*c - 16.2*math.Log(l)
	if raw < 0 {
		raw = 0
	}
	if raw > 171 {
		raw = 171
	}
	return raw * 100 / 171
}

// debtScore blends size, complexity, and maintainability into 0..1,
// non-decreasing in lines and complexity. A file at twice the split line
// threshold saturates the size term; complexityCeiling saturates the
// complexity term.
func debtScore(lines, complexity int, maintainability float64, lineThreshold, complexityCeiling int) float64 {
	sizeTerm := float64(lines) / float64(2*lineThreshold)
	if sizeTerm > 1 {
		sizeTerm = 1
	}
	cxTerm := float64(complexity) / float64(complexityCeiling)
	if cxTerm > 1 {
		cxTerm = 1
	}
	miTerm := 1 - maintainability/100

	score := 0.5*sizeTerm + 0.35*cxTerm + 0.15*miTerm
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
