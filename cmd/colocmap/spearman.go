package main

import (
	"bytes"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/minerva/colocmap/internal/matrixio"
	"github.com/minerva/colocmap/internal/spearman"
)

var spearmanOpts struct {
	output string
	name   string
}

var spearmanCmd = &cobra.Command{
	Use:   "spearman <counts.csv|->",
	Short: "Correlate per-region cell counts into a matrix file",
	Long: `Compute the Spearman rank correlation between every pair of
phenotypes in a cell count table. The header names the phenotypes; a
leading "region" or "id" column is ignored.

Examples:
  colocmap spearman counts.csv -o matrix.json
  cat counts.csv | colocmap spearman - -o matrix.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runSpearman,
}

func init() {
	spearmanCmd.Flags().StringVarP(&spearmanOpts.output, "output", "o", "-", "Output path; the extension picks json, yaml or csv")
	spearmanCmd.Flags().StringVar(&spearmanOpts.name, "name", "", "Dataset name stored in the file")
}

func runSpearman(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	names, table, err := spearman.FromCSV(in)
	if err != nil {
		return err
	}
	m, err := spearman.Matrix(table)
	if err != nil {
		return err
	}

	format := matrixio.FormatJSON
	if spearmanOpts.output != "-" {
		if format, err = matrixio.FormatFromPath(spearmanOpts.output); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := matrixio.Encode(&buf, format, &matrixio.File{Name: spearmanOpts.name, Phenotypes: names, Matrix: m}); err != nil {
		return err
	}
	return writeOutput(cmd, spearmanOpts.output, buf.Bytes())
}
