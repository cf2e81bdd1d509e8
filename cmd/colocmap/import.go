package main

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minerva/colocmap/internal/models"
	"github.com/minerva/colocmap/internal/store"
)

var importOpts struct {
	name        string
	description string
}

var importCmd = &cobra.Command{
	Use:   "import <matrix-file|url>",
	Short: "Import a matrix file as a dataset",
	Long: `Import a correlation matrix from a local file or a bucket URL
(s3://, gs://, azblob://, file://) into the dataset store.

Examples:
  colocmap import matrix.csv --name "Tonsil 01"
  colocmap import gs://lab-data/spleen/matrix.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importOpts.name, "name", "", "Dataset name (default: from the file)")
	importCmd.Flags().StringVar(&importOpts.description, "description", "", "Dataset description")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	file, err := readMatrix(ctx, args[0], cfg.Storage.BlobOptions())
	if err != nil {
		return err
	}
	if err := file.Validate(); err != nil {
		return err
	}

	name := importOpts.name
	if name == "" {
		name = file.Name
	}
	if name == "" {
		base := path.Base(args[0])
		name = strings.TrimSuffix(base, path.Ext(base))
	}

	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	ds := &models.Dataset{
		Name:        name,
		Description: importOpts.description,
		Phenotypes:  file.Phenotypes,
	}
	if err := st.CreateDataset(ctx, ds, file.Matrix); err != nil {
		return err
	}
	if n := file.Matrix.OutOfRange(); n > 0 {
		slog.Warn("imported matrix has values outside [-1, 1]", "dataset_id", ds.ID, "cells", n)
	}

	fmt.Fprintln(cmd.OutOrStdout(), ds.ID)
	return nil
}
