package apihttp

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"glowsync/internal/readings/domain"
)

// ExportSeriesCSVHandler serves series CSV exports.
type ExportSeriesCSVHandler struct {
	store SeriesReader
}

// NewExportSeriesCSVHandler constructs a ExportSeriesCSVHandler.
func NewExportSeriesCSVHandler(store SeriesReader) *ExportSeriesCSVHandler {
	return &ExportSeriesCSVHandler{store: store}
}

// ServeHTTP handles GET /api/v1/exports/series.csv.
func (h *ExportSeriesCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.store == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	key, meta, from, to, err := parseSeriesQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	points, err := h.store.Query(r.Context(), key, from, to)
	if err != nil {
		http.Error(w, "query series error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"series", "unit", "hour_start", "state", "cumulative_sum"})
	for _, point := range points {
		_ = writer.Write([]string{
			key.String(),
			meta.Unit,
			point.Hour.UTC().Format(timeLayout),
			formatFloat(point.State),
			formatFloat(point.Sum),
		})
	}
	writer.Flush()
}

// ExportSeriesXLSXHandler serves series XLSX exports.
type ExportSeriesXLSXHandler struct {
	store SeriesReader
}

// NewExportSeriesXLSXHandler constructs a ExportSeriesXLSXHandler.
func NewExportSeriesXLSXHandler(store SeriesReader) *ExportSeriesXLSXHandler {
	return &ExportSeriesXLSXHandler{store: store}
}

// ServeHTTP handles GET /api/v1/exports/series.xlsx.
func (h *ExportSeriesXLSXHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.store == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	key, meta, from, to, err := parseSeriesQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	points, err := h.store.Query(r.Context(), key, from, to)
	if err != nil {
		http.Error(w, "query series error", http.StatusInternalServerError)
		return
	}

	data, err := BuildSeriesXLSX(meta, from, to, points)
	if err != nil {
		http.Error(w, "render xlsx error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", key))
	_, _ = w.Write(data)
}

// ExportSeriesPDFHandler serves series PDF exports.
type ExportSeriesPDFHandler struct {
	store SeriesReader
}

// NewExportSeriesPDFHandler constructs a ExportSeriesPDFHandler.
func NewExportSeriesPDFHandler(store SeriesReader) *ExportSeriesPDFHandler {
	return &ExportSeriesPDFHandler{store: store}
}

// ServeHTTP handles GET /api/v1/exports/series.pdf.
func (h *ExportSeriesPDFHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.store == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	key, meta, from, to, err := parseSeriesQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	points, err := h.store.Query(r.Context(), key, from, to)
	if err != nil {
		http.Error(w, "query series error", http.StatusInternalServerError)
		return
	}

	data, err := BuildSeriesPDF(meta, from, to, points)
	if err != nil {
		http.Error(w, "render pdf error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", key))
	_, _ = w.Write(data)
}

// BuildSeriesXLSX renders a minimal XLSX for a series range.
func BuildSeriesXLSX(meta domain.SeriesMetadata, from, to time.Time, points []domain.StatPoint) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	pointsSheet := "points"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(pointsSheet)

	var windowTotal float64
	for _, point := range points {
		windowTotal += point.State
	}

	_ = f.SetCellValue(summarySheet, "A1", "Energy Series Export")
	_ = f.SetCellValue(summarySheet, "A3", "Series")
	_ = f.SetCellValue(summarySheet, "B3", meta.Name)
	_ = f.SetCellValue(summarySheet, "A4", "Unit")
	_ = f.SetCellValue(summarySheet, "B4", meta.Unit)
	_ = f.SetCellValue(summarySheet, "A5", "From")
	_ = f.SetCellValue(summarySheet, "B5", from.UTC().Format(timeLayout))
	_ = f.SetCellValue(summarySheet, "A6", "To")
	_ = f.SetCellValue(summarySheet, "B6", to.UTC().Format(timeLayout))
	_ = f.SetCellValue(summarySheet, "A7", "Hours")
	_ = f.SetCellValue(summarySheet, "B7", len(points))
	_ = f.SetCellValue(summarySheet, "A8", fmt.Sprintf("Total (%s)", meta.Unit))
	_ = f.SetCellValue(summarySheet, "B8", windowTotal)

	_ = f.SetCellValue(pointsSheet, "A1", "Hour")
	_ = f.SetCellValue(pointsSheet, "B1", fmt.Sprintf("State (%s)", meta.Unit))
	_ = f.SetCellValue(pointsSheet, "C1", fmt.Sprintf("Cumulative (%s)", meta.Unit))
	for i, point := range points {
		row := i + 2
		_ = f.SetCellValue(pointsSheet, fmt.Sprintf("A%d", row), point.Hour.UTC().Format(timeLayout))
		_ = f.SetCellValue(pointsSheet, fmt.Sprintf("B%d", row), point.State)
		_ = f.SetCellValue(pointsSheet, fmt.Sprintf("C%d", row), point.Sum)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSeriesPDF renders a minimal PDF for a series range.
func BuildSeriesPDF(meta domain.SeriesMetadata, from, to time.Time, points []domain.StatPoint) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Energy Series Export")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Series: %s", meta.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Unit: %s", meta.Unit))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", from.UTC().Format(timeLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", to.UTC().Format(timeLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Hours: %d", len(points)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Hour", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, fmt.Sprintf("State (%s)", meta.Unit), "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Cumulative", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, point := range points {
		pdf.CellFormat(60, 6, point.Hour.UTC().Format(timeLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, fmt.Sprintf("%.3f", point.State), "1", 0, "R", false, 0, "")
		pdf.CellFormat(45, 6, fmt.Sprintf("%.3f", point.Sum), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
