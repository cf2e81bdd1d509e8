package spearman

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank_AveragesTies(t *testing.T) {
	got := Rank([]float64{10, 20, 10, 30})
	assert.Equal(t, []float64{1.5, 3, 1.5, 4}, got)
}

func TestMatrix_MonotonicRelations(t *testing.T) {
	table := [][]float64{
		{1, 10, 9, 3},
		{2, 20, 7, 3},
		{3, 35, 4, 3},
		{4, 80, 1, 3},
	}
	m, err := Matrix(table)
	require.NoError(t, err)
	require.Equal(t, 4, m.Size())

	assert.InDelta(t, 1, m.At(0, 1), 1e-12, "monotonic increasing")
	assert.InDelta(t, -1, m.At(0, 2), 1e-12, "monotonic decreasing")
	assert.Equal(t, 0.0, m.At(0, 3), "constant column")
	for i := 0; i < 4; i++ {
		assert.Equal(t, 1.0, m.At(i, i))
		for j := 0; j < 4; j++ {
			assert.Equal(t, m.At(i, j), m.At(j, i))
		}
	}
}

func TestMatrix_KnownValue(t *testing.T) {
	// ranks x: 1..5, y: 2,1,4,3,5 -> d^2 sum = 4 -> rho = 1 - 6*4/(5*24) = 0.8
	table := [][]float64{
		{1, 2}, {2, 1}, {3, 4}, {4, 3}, {5, 5},
	}
	m, err := Matrix(table)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, m.At(0, 1), 1e-12)
}

func TestMatrix_Errors(t *testing.T) {
	_, err := Matrix([][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrTooFewObservations)

	_, err = Matrix([][]float64{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrRagged)
}

func TestFromCSV_SkipsRegionColumn(t *testing.T) {
	in := "region,Tumor,CD8 T\nr1,4,0\nr2,2,3\nr3,0,5\n"
	names, table, err := FromCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"Tumor", "CD8 T"}, names)
	assert.Equal(t, [][]float64{{4, 0}, {2, 3}, {0, 5}}, table)

	m, err := Matrix(table)
	require.NoError(t, err)
	assert.InDelta(t, -1, m.At(0, 1), 1e-12)
}

func TestFromCSV_NoLabelColumn(t *testing.T) {
	names, table, err := FromCSV(strings.NewReader("A,B\n1,2\n3,4\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)
	assert.Len(t, table, 2)
}
