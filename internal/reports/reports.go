package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/minerva/colocmap/internal/heatmap"
	"github.com/minerva/colocmap/internal/models"
	"github.com/minerva/colocmap/internal/scene"
)

var ErrUnsupportedFormat = errors.New("unsupported report format")

type ReportFormat string

const (
	FormatSVG  ReportFormat = "svg"
	FormatHTML ReportFormat = "html"
	FormatPDF  ReportFormat = "pdf"
	FormatCSV  ReportFormat = "csv"
	FormatJSON ReportFormat = "json"
)

// Formats lists every format Generate accepts.
var Formats = []ReportFormat{FormatSVG, FormatHTML, FormatPDF, FormatCSV, FormatJSON}

func ParseFormat(s string) (ReportFormat, error) {
	f := ReportFormat(strings.ToLower(strings.TrimPrefix(s, ".")))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

func (f ReportFormat) MimeType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

type ReportRequest struct {
	DatasetID          uuid.UUID
	Format             ReportFormat
	Title              string
	Subtitle           string
	HideTooltipOnLeave bool
}

type Report struct {
	DatasetID   uuid.UUID
	DatasetName string
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

// DataProvider resolves a dataset to the source its heatmap is drawn from.
type DataProvider interface {
	HeatmapSource(ctx context.Context, datasetID uuid.UUID) (*models.Dataset, heatmap.DataSource, error)
}

type Generator struct {
	provider DataProvider
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

func (g *Generator) Generate(ctx context.Context, req *ReportRequest) (*Report, error) {
	ds, src, err := g.provider.HeatmapSource(ctx, req.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset: %w", err)
	}

	report, err := Render(ctx, ds.Name, src, req)
	if err != nil {
		return nil, err
	}
	report.DatasetID = ds.ID
	return report, nil
}

// Render draws src and encodes it in req.Format. name feeds the filename.
func Render(ctx context.Context, name string, src heatmap.DataSource, req *ReportRequest) (*Report, error) {
	opts := []heatmap.Option{}
	if req.Title != "" {
		opts = append(opts, heatmap.WithTitle(req.Title))
	}
	if req.Subtitle != "" {
		opts = append(opts, heatmap.WithSubtitle(req.Subtitle))
	}
	if req.HideTooltipOnLeave {
		opts = append(opts, heatmap.WithHideTooltipOnLeave())
	}

	doc := scene.NewDocument()
	if _, err := doc.AddContainer("heatmap"); err != nil {
		return nil, err
	}
	w := heatmap.New("heatmap", src, opts...)
	if err := w.Initialize(ctx, doc); err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = heatmap.DefaultTitle
	}
	subtitle := req.Subtitle
	if subtitle == "" {
		subtitle = heatmap.DefaultSubtitle
	}

	var (
		data []byte
		err  error
	)
	switch req.Format {
	case FormatSVG:
		data, err = toSVG(doc)
	case FormatHTML:
		data, err = toHTML(doc, title)
	case FormatPDF:
		data, err = toPDF(w, title, subtitle, name)
	case FormatCSV:
		data, err = toCSV(w.Tiles())
	case FormatJSON:
		data, err = toJSON(w)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Report{
		DatasetName: name,
		Format:      req.Format,
		Title:       title,
		GeneratedAt: now,
		Data:        data,
		Filename:    fmt.Sprintf("heatmap_%s_%s.%s", slug(name), now.Format("20060102_150405"), req.Format),
		MimeType:    req.Format.MimeType(),
	}, nil
}

func toSVG(doc *scene.Document) ([]byte, error) {
	svg := doc.ElementByID(heatmap.SVGID)
	if svg == nil {
		return nil, fmt.Errorf("rendering svg: %w", scene.ErrElementNotFound)
	}
	var buf bytes.Buffer
	if err := scene.Render(&buf, svg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toHTML(doc *scene.Document, title string) ([]byte, error) {
	var buf bytes.Buffer
	if err := doc.RenderPage(&buf, title); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toCSV(tiles []models.Tile) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTilesCSV(&buf, tiles); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTilesCSV writes one row,col,value line per tile.
func WriteTilesCSV(w io.Writer, tiles []models.Tile) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"row", "col", "value"}); err != nil {
		return err
	}
	for _, t := range tiles {
		row := []string{string(t.Row), string(t.Col), strconv.FormatFloat(t.Value, 'g', -1, 64)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// TilesDocument is the JSON export shape.
type TilesDocument struct {
	Phenotypes []string      `json:"phenotypes"`
	Tiles      []models.Tile `json:"tiles"`
}

func toJSON(w *heatmap.Widget) ([]byte, error) {
	return json.MarshalIndent(TilesDocument{
		Phenotypes: models.CategoryNames(w.Categories()),
		Tiles:      w.Tiles(),
	}, "", "  ")
}

// StrongestPairs returns up to limit off-diagonal pairs ordered by |value|,
// each unordered pair once. NaN values are skipped.
func StrongestPairs(tiles []models.Tile, cats []models.Category, limit int) []models.Tile {
	order := make(map[models.Category]int, len(cats))
	for i, c := range cats {
		order[c] = i
	}

	pairs := make([]models.Tile, 0, len(tiles)/2)
	for _, t := range tiles {
		if t.Diagonal() || math.IsNaN(t.Value) || order[t.Row] > order[t.Col] {
			continue
		}
		pairs = append(pairs, t)
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return math.Abs(pairs[i].Value) > math.Abs(pairs[j].Value)
	})
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "dataset"
	}
	return s
}

// truncate shortens s to at most length runes, ending in "..." when cut.
func truncate(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	if length <= 3 {
		return string(runes[:max(length, 0)])
	}
	return string(runes[:length-3]) + "..."
}
