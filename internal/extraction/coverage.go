package extraction

import "finrep/internal/tree"

// CoverageRatio is the fraction of expected fields that carry a non-empty value in data.
// It is reported next to the evaluator's accuracy score and never blended with it.
func CoverageRatio(data map[string]any, expectedFields []string) float64 {
	if len(expectedFields) == 0 {
		return 0
	}
	found := 0
	for _, f := range expectedFields {
		if tree.Has(data, f) {
			found++
		}
	}
	return float64(found) / float64(len(expectedFields))
}
