package consensus

import (
	"strings"

	"extract-core/format"
)

// PositionConsistency compares the same row index across candidates. For each
// cell, consistency is 1 - (distinct-1)/compared, where compared is the number
// of candidates that have that row. It returns the per-row mean over columns
// and the overall mean over rows.
func PositionConsistency(sets [][]format.Row) ([]float64, float64) {
	maxRows := 0
	for _, rows := range sets {
		maxRows = max(maxRows, len(rows))
	}
	if maxRows == 0 {
		return nil, 0
	}

	perRow := make([]float64, maxRows)
	overall := 0.0
	for r := 0; r < maxRows; r++ {
		sum := 0.0
		for c := 0; c < format.NumColumns; c++ {
			distinct := map[string]struct{}{}
			compared := 0
			for _, rows := range sets {
				if r >= len(rows) {
					continue
				}
				compared++
				distinct[strings.ToLower(format.NormalizeField(rows[r].Fields()[c]))] = struct{}{}
			}
			if compared == 0 {
				continue
			}
			sum += 1 - float64(len(distinct)-1)/float64(compared)
		}
		perRow[r] = sum / float64(format.NumColumns)
		overall += perRow[r]
	}
	return perRow, overall / float64(maxRows)
}
