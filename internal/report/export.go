// Package report renders run reports and plots for completed detection runs.
package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"outlier-monitor/internal/detect"
)

// BuildRunCSV renders the pass table as CSV.
func BuildRunCSV(passes []detect.Pass) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"run_id", "at", "window_start", "window_end", "sensors", "outliers"}); err != nil {
		return nil, err
	}
	for _, pass := range passes {
		record := []string{
			pass.RunID,
			pass.At.UTC().Format(time.RFC3339),
			pass.WindowStart.UTC().Format(time.RFC3339),
			pass.WindowEnd.UTC().Format(time.RFC3339),
			fmt.Sprint(pass.Sensors),
			strings.Join(pass.Outliers, " "),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildRunXLSX renders a summary and pass sheet.
func BuildRunXLSX(runID string, passes []detect.Pass) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	passSheet := "passes"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(passSheet)

	flagged := flaggedSensors(passes)

	_ = f.SetCellValue(summarySheet, "A1", "Outlier Detection Run")
	_ = f.SetCellValue(summarySheet, "A3", "Run")
	_ = f.SetCellValue(summarySheet, "B3", runID)
	_ = f.SetCellValue(summarySheet, "A4", "Passes")
	_ = f.SetCellValue(summarySheet, "B4", len(passes))
	_ = f.SetCellValue(summarySheet, "A5", "Sensors flagged")
	_ = f.SetCellValue(summarySheet, "B5", strings.Join(flagged, " "))
	if len(passes) > 0 {
		_ = f.SetCellValue(summarySheet, "A6", "First pass")
		_ = f.SetCellValue(summarySheet, "B6", passes[0].At.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(summarySheet, "A7", "Last pass")
		_ = f.SetCellValue(summarySheet, "B7", passes[len(passes)-1].At.UTC().Format(time.RFC3339))
	}

	_ = f.SetCellValue(passSheet, "A1", "At")
	_ = f.SetCellValue(passSheet, "B1", "Window Start")
	_ = f.SetCellValue(passSheet, "C1", "Window End")
	_ = f.SetCellValue(passSheet, "D1", "Sensors")
	_ = f.SetCellValue(passSheet, "E1", "Outliers")
	for i, pass := range passes {
		row := i + 2
		_ = f.SetCellValue(passSheet, fmt.Sprintf("A%d", row), pass.At.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(passSheet, fmt.Sprintf("B%d", row), pass.WindowStart.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(passSheet, fmt.Sprintf("C%d", row), pass.WindowEnd.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(passSheet, fmt.Sprintf("D%d", row), pass.Sensors)
		_ = f.SetCellValue(passSheet, fmt.Sprintf("E%d", row), strings.Join(pass.Outliers, " "))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildRunPDF renders a one-page run summary.
func BuildRunPDF(runID string, passes []detect.Pass) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Outlier Detection Run")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Run: %s", runID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Passes: %d", len(passes)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Sensors flagged: %s", strings.Join(flaggedSensors(passes), " ")))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "At", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Sensors", "1", 0, "C", false, 0, "")
	pdf.CellFormat(90, 6, "Outliers", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, pass := range passes {
		pdf.CellFormat(50, 6, pass.At.UTC().Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprint(pass.Sensors), "1", 0, "R", false, 0, "")
		pdf.CellFormat(90, 6, strings.Join(pass.Outliers, " "), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRunReports writes CSV, XLSX and PDF reports for a completed run.
func WriteRunReports(dir, runID string, passes []detect.Pass) error {
	if dir == "" {
		return errors.New("report: empty output dir")
	}
	if runID == "" {
		return errors.New("report: empty run id")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	csvData, err := BuildRunCSV(passes)
	if err != nil {
		return err
	}
	xlsxData, err := BuildRunXLSX(runID, passes)
	if err != nil {
		return err
	}
	pdfData, err := BuildRunPDF(runID, passes)
	if err != nil {
		return err
	}

	base := filepath.Join(dir, "run-"+runID)
	if err := os.WriteFile(base+".csv", csvData, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(base+".xlsx", xlsxData, 0o644); err != nil {
		return err
	}
	return os.WriteFile(base+".pdf", pdfData, 0o644)
}

// flaggedSensors collects the distinct sensors flagged across passes.
func flaggedSensors(passes []detect.Pass) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pass := range passes {
		for _, id := range pass.Outliers {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
