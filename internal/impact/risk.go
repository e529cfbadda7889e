package impact

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
)

// RiskLevel grades the blast radius of a change.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFactor is a single weighted contribution to the risk score.
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// buildReport summarizes the impact items into a report with a risk grade.
//
// The level is determined by three signals rather than by the numeric score:
// how many distinct files are impacted, whether any seed changed its
// signature (a deletion counts as the ultimate signature change), and
// whether the impacted files have detectable test coverage. The score and
// factor breakdown are kept alongside so callers can see why two reports
// with the same level still differ.
func buildReport(seeds []Seed, items []Item) *Report {
	files := make(map[string]bool)
	untested := 0
	for _, item := range items {
		if item.Path == "" {
			continue
		}
		if _, ok := files[item.Path]; !ok {
			files[item.Path] = item.HasTests
			if !item.HasTests {
				untested++
			}
		}
	}
	fileCount := len(files)

	sigChange := false
	for _, s := range seeds {
		if s.SignatureChanged || s.Deleted {
			sigChange = true
			break
		}
	}

	factors := []RiskFactor{
		{Name: "breadth", Weight: 0.4, Value: calculateBreadthRisk(fileCount)},
		{Name: "signature-change", Weight: 0.35, Value: boolValue(sigChange)},
		{Name: "test-gap", Weight: 0.25, Value: calculateTestGapRisk(fileCount, untested)},
	}

	score := 0.0
	for _, factor := range factors {
		score += factor.Weight * factor.Value
	}

	level := determineRiskLevel(fileCount, sigChange, untested)

	return &Report{
		Seeds:         seeds,
		Impacted:      items,
		ImpactedFiles: fileCount,
		UntestedFiles: untested,
		Risk:          level,
		Score:         score,
		Factors:       factors,
		Explanation:   generateExplanation(level, fileCount, untested, sigChange),
	}
}

// calculateBreadthRisk maps the impacted file count onto a logarithmic
// scale: 0 files = 0.0, 1 file = 0.23, 5 files = 0.59, 20+ files = 1.0.
func calculateBreadthRisk(fileCount int) float64 {
	if fileCount == 0 {
		return 0.0
	}
	score := math.Log10(float64(fileCount)+1) / math.Log10(21)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func calculateTestGapRisk(fileCount, untested int) float64 {
	if fileCount == 0 {
		return 0.0
	}
	return float64(untested) / float64(fileCount)
}

func boolValue(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// determineRiskLevel grades the change. A signature change that reaches at
// least one file without tests is critical; a signature change or a spread
// beyond five files is high; up to two files without a signature change is
// low; everything between is medium.
func determineRiskLevel(fileCount int, sigChange bool, untested int) RiskLevel {
	if sigChange && untested > 0 {
		return RiskCritical
	}
	if sigChange || fileCount > 5 {
		return RiskHigh
	}
	if fileCount <= 2 {
		return RiskLow
	}
	return RiskMedium
}

func generateExplanation(level RiskLevel, fileCount, untested int, sigChange bool) string {
	switch level {
	case RiskCritical:
		return fmt.Sprintf("Critical risk: a signature change reaches %d file(s), %d without test coverage. Dependents will break silently.", fileCount, untested)
	case RiskHigh:
		if sigChange {
			return fmt.Sprintf("High risk: a signature change reaches %d file(s). Every dependent needs updating.", fileCount)
		}
		return fmt.Sprintf("High risk: %d file(s) impacted. Changes may break multiple components.", fileCount)
	case RiskMedium:
		return fmt.Sprintf("Medium risk: %d file(s) impacted, %d without test coverage. Changes require careful testing.", fileCount, untested)
	case RiskLow:
		return fmt.Sprintf("Low risk: %d file(s) impacted. Changes have limited reach.", fileCount)
	default:
		return "Unknown risk level."
	}
}

// hasTestCoverage reports whether a conventional test file for path exists
// in the graph. A test file counts as covering itself.
func (a *Analyzer) hasTestCoverage(ctx context.Context, relPath string) (bool, error) {
	if IsTestPath(relPath) {
		return true, nil
	}
	for _, candidate := range testCandidates(relPath) {
		ok, err := a.store.HasFile(ctx, candidate)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// IsTestPath reports whether a repo-relative path names a test file by the
// common conventions: test_x.py, x_test.py, x_test.go, x.test.ts, x.spec.ts
// and their js variants.
func IsTestPath(relPath string) bool {
	base := path.Base(relPath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	switch ext {
	case ".py":
		return strings.HasPrefix(stem, "test_") || strings.HasSuffix(stem, "_test")
	case ".go":
		return strings.HasSuffix(stem, "_test")
	case ".js", ".jsx", ".ts", ".tsx":
		return strings.HasSuffix(stem, ".test") || strings.HasSuffix(stem, ".spec")
	}
	return false
}

// testCandidates lists the sibling paths where a test for relPath would
// conventionally live, most specific first.
func testCandidates(relPath string) []string {
	dir := path.Dir(relPath)
	ext := path.Ext(relPath)
	stem := strings.TrimSuffix(path.Base(relPath), ext)

	var names []string
	switch ext {
	case ".py":
		names = []string{"test_" + stem + ext, stem + "_test" + ext}
	case ".go":
		names = []string{stem + "_test" + ext}
	case ".js", ".jsx", ".ts", ".tsx":
		names = []string{stem + ".test" + ext, stem + ".spec" + ext}
	default:
		return nil
	}

	candidates := make([]string, 0, len(names))
	for _, name := range names {
		candidates = append(candidates, path.Join(dir, name))
	}
	sort.Strings(candidates)
	return candidates
}
