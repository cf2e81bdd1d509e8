package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

var (
	ErrNotSquare    = errors.New("correlation matrix is not square")
	ErrSizeMismatch = errors.New("correlation matrix size does not match phenotype count")
)

// Category is a phenotype (cell type) label. Both heatmap axes share one
// ordered list of categories.
type Category string

func Categories(names []string) []Category {
	out := make([]Category, len(names))
	for i, n := range names {
		out[i] = Category(n)
	}
	return out
}

func CategoryNames(cats []Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

// CorrelationMatrix holds pairwise Spearman coefficients indexed by
// (row category, column category).
type CorrelationMatrix [][]float64

func (m CorrelationMatrix) Size() int {
	return len(m)
}

func (m CorrelationMatrix) At(i, j int) float64 {
	return m[i][j]
}

// Validate checks that m is n×n. Values are not range checked.
func (m CorrelationMatrix) Validate(n int) error {
	if len(m) != n {
		return fmt.Errorf("%w: %d rows for %d phenotypes", ErrSizeMismatch, len(m), n)
	}
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrNotSquare, i, len(row), n)
		}
	}
	return nil
}

// OutOfRange counts cells outside [-1, 1] (NaN included).
func (m CorrelationMatrix) OutOfRange() int {
	count := 0
	for _, row := range m {
		for _, v := range row {
			if math.IsNaN(v) || v < -1 || v > 1 {
				count++
			}
		}
	}
	return count
}

func (m CorrelationMatrix) Clone() CorrelationMatrix {
	out := make(CorrelationMatrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Tile is one renderable heatmap cell.
type Tile struct {
	Row   Category `json:"row"`
	Col   Category `json:"col"`
	Value float64  `json:"val"`
}

// Diagonal reports whether the tile is a self-correlation.
func (t Tile) Diagonal() bool {
	return t.Row == t.Col
}

// Flatten pairs every matrix position with its row and column labels, in
// row-major order. The caller is expected to have validated dimensions.
func Flatten(cats []Category, m CorrelationMatrix) []Tile {
	tiles := make([]Tile, 0, len(cats)*len(cats))
	for i, row := range m {
		for j, v := range row {
			tiles = append(tiles, Tile{
				Row:   cats[i],
				Col:   cats[j],
				Value: v,
			})
		}
	}
	return tiles
}

// Dataset is a stored correlation matrix together with its label order.
type Dataset struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description,omitempty" db:"description"`
	Phenotypes  StringArray `json:"phenotypes" db:"phenotypes"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

func (d *Dataset) Categories() []Category {
	return Categories(d.Phenotypes)
}
