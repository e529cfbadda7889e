package refactor

import "testing"

func TestMaintainabilityIndexBounds(t *testing.T) {
	cases := []struct{ lines, complexity int }{
		{0, 0},
		{1, 1},
		{10, 2},
		{200, 15},
		{1000, 80},
		{5000, 400},
		{100000, 10000},
	}
	for _, c := range cases {
		mi := maintainabilityIndex(c.lines, c.complexity)
		if mi < 0 || mi > 100 {
			t.Errorf("maintainabilityIndex(%d, %d) = %f, outside [0, 100]",
				c.lines, c.complexity, mi)
		}
	}
}

func TestMaintainabilityIndexNonIncreasing(t *testing.T) {
	prev := 101.0
	for _, lines := range []int{10, 50, 200, 1000, 5000, 20000} {
		mi := maintainabilityIndex(lines, 10)
		if mi > prev {
			t.Errorf("index rose from %f to %f at %d lines", prev, mi, lines)
		}
		prev = mi
	}
	prev = 101.0
	for _, cx := range []int{1, 5, 20, 80, 300} {
		mi := maintainabilityIndex(500, cx)
		if mi > prev {
			t.Errorf("index rose from %f to %f at complexity %d", prev, mi, cx)
		}
		prev = mi
	}
}

func TestMaintainabilityIndexTrivialFileNearTop(t *testing.T) {
	if mi := maintainabilityIndex(10, 1); mi < 75 {
		t.Errorf("trivial file scored %f, want well above the midpoint", mi)
	}
}

func TestDebtScoreBounds(t *testing.T) {
	cases := []struct{ lines, complexity int }{
		{0, 0},
		{50, 1},
		{1000, 120},
		{2000, 120},
		{50000, 9000},
	}
	for _, c := range cases {
		mi := maintainabilityIndex(c.lines, c.complexity)
		d := debtScore(c.lines, c.complexity, mi, 1000, 120)
		if d < 0 || d > 1 {
			t.Errorf("debtScore(%d, %d) = %f, outside [0, 1]",
				c.lines, c.complexity, d)
		}
	}
}

func TestDebtScoreNonDecreasing(t *testing.T) {
	prev := -1.0
	for _, lines := range []int{10, 100, 500, 1000, 2000, 4000} {
		mi := maintainabilityIndex(lines, 10)
		d := debtScore(lines, 10, mi, 1000, 120)
		if d < prev {
			t.Errorf("debt fell from %f to %f at %d lines", prev, d, lines)
		}
		prev = d
	}
	prev = -1.0
	for _, cx := range []int{1, 10, 60, 120, 500} {
		mi := maintainabilityIndex(800, cx)
		d := debtScore(800, cx, mi, 1000, 120)
		if d < prev {
			t.Errorf("debt fell from %f to %f at complexity %d", prev, d, cx)
		}
		prev = d
	}
}

func TestDebtScoreHealthyFileStaysLow(t *testing.T) {
	mi := maintainabilityIndex(200, 5)
	if d := debtScore(200, 5, mi, 1000, 120); d >= 0.6 {
		t.Errorf("healthy 200-line file scored debt %f, want below 0.6", d)
	}
}

func TestDebtScoreSaturates(t *testing.T) {
	mi := maintainabilityIndex(2000, 120)
	d := debtScore(2000, 120, mi, 1000, 120)
	if d < 0.85 {
		t.Errorf("file at both ceilings scored %f, want near 1", d)
	}
	mi = maintainabilityIndex(50000, 9000)
	if worse := debtScore(50000, 9000, mi, 1000, 120); worse < d || worse > 1 {
		t.Errorf("far past the ceilings scored %f, want within [%f, 1]", worse, d)
	}
}
