// Package spearman computes Spearman rank correlation matrices between
// phenotypes from per-region cell counts.
package spearman

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/minerva/colocmap/internal/models"
)

var (
	ErrTooFewObservations = errors.New("need at least two observations")
	ErrRagged             = errors.New("observation rows have different lengths")
)

// Matrix correlates the columns of table. Each row is one observation
// (a neighbourhood or region), each column one phenotype. The diagonal is 1;
// a column with no variance correlates 0 with everything else.
func Matrix(table [][]float64) (models.CorrelationMatrix, error) {
	if len(table) < 2 {
		return nil, ErrTooFewObservations
	}
	k := len(table[0])
	for i, row := range table {
		if len(row) != k {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrRagged, i, len(row), k)
		}
	}

	ranks := make([][]float64, k)
	col := make([]float64, len(table))
	for j := 0; j < k; j++ {
		for i, row := range table {
			col[i] = row[j]
		}
		ranks[j] = Rank(col)
	}

	out := make(models.CorrelationMatrix, k)
	for i := range out {
		out[i] = make([]float64, k)
		out[i][i] = 1
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			r := pearson(ranks[i], ranks[j])
			out[i][j] = r
			out[j][i] = r
		}
	}
	return out, nil
}

// Rank assigns 1-based ranks, averaging over ties.
func Rank(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})

	ranks := make([]float64, len(values))
	for start := 0; start < len(idx); {
		end := start + 1
		for end < len(idx) && values[idx[end]] == values[idx[start]] {
			end++
		}
		avg := float64(start+end+1) / 2
		for p := start; p < end; p++ {
			ranks[idx[p]] = avg
		}
		start = end
	}
	return ranks
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	r := cov / math.Sqrt(varA*varB)
	return math.Max(-1, math.Min(1, r))
}

// FromCSV reads a count table whose header names the phenotypes. A leading
// column named "region", "id" or left blank is treated as a row label and
// skipped.
func FromCSV(r io.Reader) ([]string, [][]float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading count table: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, ErrTooFewObservations
	}

	header := records[0]
	skip := 0
	if len(header) > 0 {
		switch strings.ToLower(strings.TrimSpace(header[0])) {
		case "", "region", "id":
			skip = 1
		}
	}
	names := append([]string(nil), header[skip:]...)

	table := make([][]float64, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := make([]float64, len(rec)-skip)
		for j, cell := range rec[skip:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d column %q: %w", i+2, names[j], err)
			}
			row[j] = v
		}
		table = append(table, row)
	}
	return names, table, nil
}
