// Package matrixio reads and writes correlation matrix files in JSON, YAML
// and labelled CSV form.
package matrixio

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/minerva/colocmap/internal/blobstore"
	"github.com/minerva/colocmap/internal/models"
)

var (
	ErrUnknownFormat = errors.New("unknown matrix file format")
	ErrLabelMismatch = errors.New("row labels do not match column labels")
	ErrEmpty         = errors.New("matrix file has no phenotypes")
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// File is the on-disk shape of a matrix: labels plus rows in label order.
type File struct {
	Name       string                   `json:"name,omitempty" yaml:"name,omitempty"`
	Phenotypes []string                 `json:"phenotypes" yaml:"phenotypes"`
	Matrix     models.CorrelationMatrix `json:"matrix" yaml:"matrix"`
}

func (f *File) Categories() []models.Category {
	return models.Categories(f.Phenotypes)
}

func (f *File) Validate() error {
	if len(f.Phenotypes) == 0 {
		return ErrEmpty
	}
	return f.Matrix.Validate(len(f.Phenotypes))
}

// FormatFromPath picks the format from a file name or object key.
func FormatFromPath(p string) (Format, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, p)
	}
}

func Decode(r io.Reader, format Format) (*File, error) {
	var (
		f   *File
		err error
	)
	switch format {
	case FormatJSON:
		f = &File{}
		err = json.NewDecoder(r).Decode(f)
	case FormatYAML:
		f = &File{}
		err = yaml.NewDecoder(r).Decode(f)
	case FormatCSV:
		f, err = decodeCSV(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s matrix: %w", format, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func Encode(w io.Writer, format Format, f *File) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return err
		}
		return enc.Close()
	case FormatCSV:
		return encodeCSV(w, f)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func decodeCSV(r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}

	labels := records[0][1:]
	f := &File{
		Phenotypes: append([]string(nil), labels...),
		Matrix:     make(models.CorrelationMatrix, 0, len(labels)),
	}
	for i, rec := range records[1:] {
		if i >= len(labels) || rec[0] != labels[i] {
			return nil, fmt.Errorf("%w: row %d is %q", ErrLabelMismatch, i+1, rec[0])
		}
		row := make([]float64, len(rec)-1)
		for j, cell := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("row %q column %d: %w", rec[0], j+1, err)
			}
			row[j] = v
		}
		f.Matrix = append(f.Matrix, row)
	}
	return f, nil
}

func encodeCSV(w io.Writer, f *File) error {
	cw := csv.NewWriter(w)

	header := append([]string{""}, f.Phenotypes...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, row := range f.Matrix {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, f.Phenotypes[i])
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Fetch reads a matrix file from a bucket object URL such as
// s3://lab-data/tonsil/matrix.csv. The format comes from the key's extension.
func Fetch(ctx context.Context, rawURL string, opts blobstore.Options) (*File, error) {
	format, err := FormatFromPath(rawURL)
	if err != nil {
		return nil, err
	}
	bucket, key, err := blobstore.OpenObject(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()

	data, err := bucket.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	return Decode(bytes.NewReader(data), format)
}
