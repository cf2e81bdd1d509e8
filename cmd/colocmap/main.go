package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/minerva/colocmap/internal/blobstore"
	"github.com/minerva/colocmap/internal/config"
	"github.com/minerva/colocmap/internal/matrixio"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "colocmap",
	Short: "Phenotype colocalization heatmaps",
	Long: `colocmap renders and serves heatmaps of phenotype colocalization
correlation matrices.

Examples:
  colocmap serve --config config.yaml
  colocmap spearman counts.csv -o matrix.json
  colocmap render matrix.json -f svg -o tonsil.svg
  colocmap import s3://lab-data/tonsil/matrix.csv --name "Tonsil 01"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, renderCmd, importCmd, spearmanCmd, workerCmd, versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}
	return cfg, nil
}

// readMatrix loads a matrix file from a local path or a bucket URL.
func readMatrix(ctx context.Context, src string, opts blobstore.Options) (*matrixio.File, error) {
	if strings.Contains(src, "://") {
		return matrixio.Fetch(ctx, src, opts)
	}

	format, err := matrixio.FormatFromPath(src)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return matrixio.Decode(f, format)
}

// writeOutput writes data to path, or to stdout when path is "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	slog.Info("wrote file", "path", path, "bytes", len(data))
	return nil
}
