package main

import (
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minerva/colocmap/internal/datalayer"
	"github.com/minerva/colocmap/internal/reports"
)

var renderOpts struct {
	format      string
	output      string
	title       string
	subtitle    string
	hideOnLeave bool
}

var renderCmd = &cobra.Command{
	Use:   "render <matrix-file|url>",
	Short: "Render a matrix file as a heatmap",
	Long: `Render a correlation matrix (json, yaml or csv) to svg, html, pdf,
csv or json without a database.

Examples:
  colocmap render matrix.json -f html -o tonsil.html
  colocmap render s3://lab-data/tonsil.csv -f pdf --title "Tonsil 01"
  colocmap render matrix.yaml -f svg -o -`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderOpts.format, "format", "f", "svg", "Output format (svg, html, pdf, csv, json)")
	f.StringVarP(&renderOpts.output, "output", "o", "", "Output path, - for stdout (default: generated file name)")
	f.StringVar(&renderOpts.title, "title", "", "Chart title")
	f.StringVar(&renderOpts.subtitle, "subtitle", "", "Chart subtitle")
	f.BoolVar(&renderOpts.hideOnLeave, "hide-tooltip-on-leave", false, "Hide the html tooltip when the pointer leaves a tile")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := reports.ParseFormat(renderOpts.format)
	if err != nil {
		return err
	}

	file, err := readMatrix(cmd.Context(), args[0], cfg.Storage.BlobOptions())
	if err != nil {
		return err
	}
	if err := file.Validate(); err != nil {
		return err
	}
	name := file.Name
	if name == "" {
		base := path.Base(args[0])
		name = strings.TrimSuffix(base, path.Ext(base))
	}

	title := renderOpts.title
	if title == "" {
		title = cfg.Heatmap.Title
	}
	subtitle := renderOpts.subtitle
	if subtitle == "" {
		subtitle = cfg.Heatmap.Subtitle
	}

	report, err := reports.Render(cmd.Context(), name, datalayer.NewStatic(file.Phenotypes, file.Matrix), &reports.ReportRequest{
		Format:             format,
		Title:              title,
		Subtitle:           subtitle,
		HideTooltipOnLeave: renderOpts.hideOnLeave || cfg.Heatmap.HideTooltipOnLeave,
	})
	if err != nil {
		return err
	}

	out := renderOpts.output
	if out == "" {
		out = report.Filename
	}
	return writeOutput(cmd, out, report.Data)
}
