package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva/colocmap/internal/datalayer"
	"github.com/minerva/colocmap/internal/heatmap"
	"github.com/minerva/colocmap/internal/models"
)

type fakeProvider struct {
	ds  *models.Dataset
	src *datalayer.Static
	err error
}

func (p *fakeProvider) HeatmapSource(ctx context.Context, id uuid.UUID) (*models.Dataset, heatmap.DataSource, error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.ds, p.src, nil
}

func newProvider() *fakeProvider {
	names := []string{"Tumor", "CD8 T", "Macrophage"}
	return &fakeProvider{
		ds: &models.Dataset{ID: uuid.New(), Name: "Tonsil 01", Phenotypes: names},
		src: datalayer.NewStatic(names, models.CorrelationMatrix{
			{1, -0.42, 0.1},
			{-0.42, 1, 0.73},
			{0.1, 0.73, 1},
		}),
	}
}

func generate(t *testing.T, p *fakeProvider, format ReportFormat) *Report {
	t.Helper()
	g := NewGenerator(p)
	r, err := g.Generate(context.Background(), &ReportRequest{DatasetID: p.ds.ID, Format: format})
	require.NoError(t, err)
	assert.Equal(t, p.ds.ID, r.DatasetID)
	assert.Equal(t, format.MimeType(), r.MimeType)
	assert.True(t, strings.HasPrefix(r.Filename, "heatmap_tonsil-01_"), r.Filename)
	assert.True(t, strings.HasSuffix(r.Filename, "."+string(format)), r.Filename)
	return r
}

func TestGenerate_SVG(t *testing.T) {
	r := generate(t, newProvider(), FormatSVG)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Data))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Find("svg#heatmap-svg").Length())
	assert.Equal(t, 9, doc.Find("rect.tile").Length())
	assert.Equal(t, 0, doc.Find("div.tooltip").Length(), "svg export has no tooltip")
}

func TestGenerate_HTML(t *testing.T) {
	r := generate(t, newProvider(), FormatHTML)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Data))
	require.NoError(t, err)
	assert.Equal(t, heatmap.DefaultTitle, doc.Find("title").Text())
	assert.Equal(t, 1, doc.Find("#heatmap-tooltip").Length())
	assert.Equal(t, 1, doc.Find("script").Length())
}

func TestGenerate_PDF(t *testing.T) {
	r := generate(t, newProvider(), FormatPDF)
	assert.True(t, bytes.HasPrefix(r.Data, []byte("%PDF-")))
}

func TestGenerate_PDFSubtitle(t *testing.T) {
	pdfCompression = false
	defer func() { pdfCompression = true }()

	p := newProvider()
	r, err := NewGenerator(p).Generate(context.Background(), &ReportRequest{
		DatasetID: p.ds.ID,
		Format:    FormatPDF,
		Subtitle:  "Custom sub",
	})
	require.NoError(t, err)
	assert.Contains(t, string(r.Data), "Custom sub across 3 phenotypes")

	r = generate(t, p, FormatPDF)
	assert.Contains(t, string(r.Data), "Dataset: Tonsil 01. Spearman rank correlation")
}

func TestGenerate_CSV(t *testing.T) {
	r := generate(t, newProvider(), FormatCSV)

	records, err := csv.NewReader(bytes.NewReader(r.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 10)
	assert.Equal(t, []string{"row", "col", "value"}, records[0])
	assert.Equal(t, []string{"Tumor", "CD8 T", "-0.42"}, records[2])
}

func TestGenerate_JSON(t *testing.T) {
	r := generate(t, newProvider(), FormatJSON)

	var doc TilesDocument
	require.NoError(t, json.Unmarshal(r.Data, &doc))
	assert.Equal(t, []string{"Tumor", "CD8 T", "Macrophage"}, doc.Phenotypes)
	require.Len(t, doc.Tiles, 9)
	assert.Equal(t, models.Tile{Row: "CD8 T", Col: "Macrophage", Value: 0.73}, doc.Tiles[5])
}

func TestGenerate_CustomTitle(t *testing.T) {
	p := newProvider()
	r, err := NewGenerator(p).Generate(context.Background(), &ReportRequest{
		DatasetID: p.ds.ID,
		Format:    FormatSVG,
		Title:     "Tonsil",
	})
	require.NoError(t, err)
	assert.Contains(t, string(r.Data), ">Tonsil</text>")
	assert.Equal(t, "Tonsil", r.Title)
}

func TestGenerate_Errors(t *testing.T) {
	p := newProvider()
	g := NewGenerator(p)

	_, err := g.Generate(context.Background(), &ReportRequest{DatasetID: p.ds.ID, Format: "gif"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	boom := errors.New("boom")
	p.src.Err = boom
	_, err = g.Generate(context.Background(), &ReportRequest{DatasetID: p.ds.ID, Format: FormatSVG})
	assert.ErrorIs(t, err, boom)

	p.err = errors.New("no such dataset")
	_, err = g.Generate(context.Background(), &ReportRequest{DatasetID: p.ds.ID, Format: FormatSVG})
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(".PDF")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("png")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestStrongestPairs(t *testing.T) {
	cats := []models.Category{"A", "B", "C"}
	m := models.CorrelationMatrix{
		{1, 0.2, -0.9},
		{0.2, 1, 0.5},
		{-0.9, 0.5, 1},
	}
	pairs := StrongestPairs(models.Flatten(cats, m), cats, 2)
	require.Len(t, pairs, 2)
	assert.Equal(t, models.Tile{Row: "A", Col: "C", Value: -0.9}, pairs[0])
	assert.Equal(t, models.Tile{Row: "B", Col: "C", Value: 0.5}, pairs[1])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "CD8 T", truncate("CD8 T", 24))
	assert.Equal(t, "αβγ...", truncate("αβγδεζη", 6))
	assert.Equal(t, "Tre...", truncate("Treg FoxP3+", 6))
	assert.Equal(t, "αβ", truncate("αβγδ", 2))
	assert.Equal(t, "", truncate("αβγδ", 0))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "tonsil-01", slug("Tonsil 01"))
	assert.Equal(t, "a-b", slug("  a//b  "))
	assert.Equal(t, "dataset", slug("***"))
}
