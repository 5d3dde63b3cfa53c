package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/phrazzld/lookbook/internal/pipeline"
	"github.com/xuri/excelize/v2"
)

const (
	// ProductSheet is the name of the summary sheet
	ProductSheet = "Product_Details"

	// VariationSheet is the name of the per-artifact sheet
	VariationSheet = "Variations"

	// placeholder fills descriptive cells the analysis left empty
	placeholder = "To be specified"
)

// viewColumns maps the views that get a dedicated URL column, in column order.
// Detail views are listed on the variation sheet only.
var viewColumns = []struct {
	view   string
	header string
}{
	{pipeline.ViewFront, "Front View URL"},
	{pipeline.ViewSide, "Side View URL"},
	{pipeline.ViewBack, "Back View URL"},
}

// ProductHeaders is the header row of the summary sheet
var ProductHeaders = []string{
	"SKU_ID",
	"Description",
	"Key Features",
	"Search Keywords",
	"Front View URL",
	"Side View URL",
	"Back View URL",
	"Video URL",
	"Variations",
}

// VariationHeaders is the header row of the variation sheet
var VariationHeaders = []string{"Key", "View", "Primary", "URL"}

// ExcelReporter implements pipeline.Reporter with an .xlsx workbook
type ExcelReporter struct {
	logger *slog.Logger
}

var _ pipeline.Reporter = (*ExcelReporter)(nil)

// NewExcelReporter creates an ExcelReporter
func NewExcelReporter(logger *slog.Logger) *ExcelReporter {
	return &ExcelReporter{logger: logger.With("component", "excel_reporter")}
}

// BuildReport renders in as an .xlsx workbook
func (r *ExcelReporter) BuildReport(ctx context.Context, in pipeline.ReportInput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			r.logger.WarnContext(ctx, "failed to close workbook", "error", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", ProductSheet); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if _, err := f.NewSheet(VariationSheet); err != nil {
		return nil, fmt.Errorf("failed to create variation sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	wrap, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create wrap style: %w", err)
	}

	if err := writeRow(f, ProductSheet, 1, toCells(ProductHeaders), header); err != nil {
		return nil, err
	}
	if err := writeRow(f, ProductSheet, 2, productRow(in), wrap); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(ProductSheet, "A", "I", 32); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}

	if err := writeRow(f, VariationSheet, 1, toCells(VariationHeaders), header); err != nil {
		return nil, err
	}
	for i, key := range in.VariationKeys {
		row := []any{key, viewOf(key), key == in.PrimaryKey, in.ArtifactURLs[key]}
		if err := writeRow(f, VariationSheet, i+2, row, 0); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(VariationSheet, "A", "D", 28); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	r.logger.DebugContext(ctx, "report built",
		"request_id", in.RequestID,
		"variations", len(in.VariationKeys),
		"bytes", buf.Len())
	return bytes.Clone(buf.Bytes()), nil
}

func productRow(in pipeline.ReportInput) []any {
	a := in.Analysis

	sku := in.Product
	if sku == "" {
		sku = in.RequestID
	}

	description := a.Description
	if description == "" {
		description = "Product details to be added"
	}

	features := "Product details to be added"
	if len(a.Details) > 0 {
		lines := make([]string, len(a.Details))
		for i, d := range a.Details {
			lines[i] = "• " + d
		}
		features = strings.Join(lines, "\n")
	}

	keywords := strings.Join(searchKeywords(a), ", ")
	if keywords == "" {
		keywords = placeholder
	}

	row := []any{sku, description, features, keywords}
	for _, col := range viewColumns {
		row = append(row, in.ArtifactURLs[primaryFor(in, col.view)])
	}
	return append(row, in.VideoURL, len(in.VariationKeys))
}

// primaryFor returns the key shown in a view's URL column: the request
// primary for its own view, otherwise the first variation of that view.
func primaryFor(in pipeline.ReportInput, view string) string {
	if viewOf(in.PrimaryKey) == view {
		return in.PrimaryKey
	}
	for _, key := range in.VariationKeys {
		if viewOf(key) == view {
			return key
		}
	}
	return ""
}

// searchKeywords derives deduplicated keywords from the analysis
func searchKeywords(a generation.Analysis) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(vals ...string) {
		for _, v := range vals {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	add(a.GarmentType, a.Style, a.Pattern, a.Fit)
	add(a.Colors...)
	add(a.Materials...)
	return out
}

func viewOf(key string) string {
	view, _, _ := strings.Cut(key, "_")
	return view
}

func toCells(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func writeRow(f *excelize.File, sheet string, row int, vals []any, style int) error {
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("invalid row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, start, &vals); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	if style == 0 {
		return nil
	}
	end, err := excelize.CoordinatesToCellName(len(vals), row)
	if err != nil {
		return fmt.Errorf("invalid row %d: %w", row, err)
	}
	if err := f.SetCellStyle(sheet, start, end, style); err != nil {
		return fmt.Errorf("failed to style %s row %d: %w", sheet, row, err)
	}
	return nil
}
