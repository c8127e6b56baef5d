package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "fleetpulse-cloud/internal/alerts/domain"
	ingest "fleetpulse-cloud/internal/ingest/domain"
)

var alertHeader = []string{"id", "device_id", "alert_type", "severity", "value", "created_at", "resolved_at", "message"}

var batchHeader = []string{"batch_id", "device_id", "received_at", "contract_version", "accepted", "duplicates", "quarantined", "rejected", "unknown_keys", "mismatch_keys", "source", "status"}

func alertRow(a alerts.Alert) []string {
	resolved := ""
	if !a.ResolvedAt.IsZero() {
		resolved = a.ResolvedAt.Format(time.RFC3339)
	}
	return []string{
		a.ID,
		a.DeviceID,
		a.AlertType,
		a.Severity,
		strconv.FormatFloat(a.Value, 'f', -1, 64),
		a.CreatedAt.Format(time.RFC3339),
		resolved,
		a.Message,
	}
}

func batchRow(b ingest.Batch) []string {
	return []string{
		b.BatchID,
		b.DeviceID,
		b.ReceivedAt.Format(time.RFC3339),
		strconv.Itoa(b.ContractVersion),
		strconv.Itoa(b.Accepted),
		strconv.Itoa(b.Duplicates),
		strconv.Itoa(b.Quarantined),
		strconv.Itoa(b.Rejected),
		strings.Join(b.UnknownKeys, ";"),
		strings.Join(b.MismatchKeys, ";"),
		b.Source,
		b.Status,
	}
}

// BuildAlertsCSV renders alert history as CSV.
func BuildAlertsCSV(list []alerts.Alert) ([]byte, error) {
	rows := make([][]string, 0, len(list))
	for _, a := range list {
		rows = append(rows, alertRow(a))
	}
	return buildCSV(alertHeader, rows)
}

// BuildBatchesCSV renders ingestion batch audit as CSV.
func BuildBatchesCSV(list []ingest.Batch) ([]byte, error) {
	rows := make([][]string, 0, len(list))
	for _, b := range list {
		rows = append(rows, batchRow(b))
	}
	return buildCSV(batchHeader, rows)
}

func buildCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsXLSX renders alert history as a workbook.
func BuildAlertsXLSX(list []alerts.Alert) ([]byte, error) {
	rows := make([][]string, 0, len(list))
	for _, a := range list {
		rows = append(rows, alertRow(a))
	}
	return buildXLSX("alerts", alertHeader, rows)
}

// BuildBatchesXLSX renders ingestion batch audit as a workbook.
func BuildBatchesXLSX(list []ingest.Batch) ([]byte, error) {
	rows := make([][]string, 0, len(list))
	for _, b := range list {
		rows = append(rows, batchRow(b))
	}
	return buildXLSX("batches", batchHeader, rows)
}

func buildXLSX(sheet string, header []string, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", sheet)

	for col, value := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, value)
	}
	for i, row := range rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsPDF renders alert history as a minimal PDF table.
func BuildAlertsPDF(list []alerts.Alert) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{35, 35, 35, 22, 22, 45, 45, 38}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range alertHeader {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, a := range list {
		for i, value := range alertRow(a) {
			pdf.CellFormat(widths[i], 6, value, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildBatchesPDF renders ingestion batch audit as a minimal PDF table.
func BuildBatchesPDF(list []ingest.Batch) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Ingestion Batch Audit")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{40, 30, 36, 16, 16, 18, 20, 16, 28, 28, 16, 16}
	pdf.SetFont("Arial", "B", 8)
	for i, title := range batchHeader {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, b := range list {
		for i, value := range batchRow(b) {
			pdf.CellFormat(widths[i], 6, value, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
