package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

// utf8BOM lets spreadsheet programs detect UTF-8 so accents survive.
const utf8BOM = "\uFEFF"

const exportSheet = "Reportes"

type exportColumn struct {
	header string
	value  func(f models.ExtractedFields) string
}

var exportColumns = []exportColumn{
	{"Folio Reporte (Rojo)", func(f models.ExtractedFields) string { return f.FolioReporte }},
	{"Folio Comexa", func(f models.ExtractedFields) string { return f.Folio }},
	{"Folio Cliente", func(f models.ExtractedFields) string { return f.FolioCliente }},
	{"Inmueble", func(f models.ExtractedFields) string { return f.Inmueble }},
	{"SIRH", func(f models.ExtractedFields) string { return f.SIRH }},
	{"Atención (Cliente/Banco)", func(f models.ExtractedFields) string { return f.Atencion }},
	{"Fecha", func(f models.ExtractedFields) string { return f.Fecha }},
	{"Reportó", func(f models.ExtractedFields) string { return f.Reporto }},
	{"Técnicos", func(f models.ExtractedFields) string { return f.Tecnicos }},
	{"Tipo Mantenimiento", func(f models.ExtractedFields) string { return f.TipoMantenimiento }},
	{"Falla Reportada", func(f models.ExtractedFields) string { return f.FallaReportada }},
	{"Condiciones Encontradas", func(f models.ExtractedFields) string { return f.CondicionesEncontradas }},
	{"Trabajo Realizado", func(f models.ExtractedFields) string { return f.TrabajoRealizado }},
	{"Materiales", func(f models.ExtractedFields) string { return f.Materiales }},
	{"Equipo Instalado", func(f models.ExtractedFields) string { return f.EquipoInstalado }},
	{"Equipo Retirado", func(f models.ExtractedFields) string { return f.EquipoRetirado }},
	{"Clasificación", func(f models.ExtractedFields) string { return f.Clasificacion }},
	{"Estado Final", func(f models.ExtractedFields) string { return f.EstatusFinal }},
	{"Verificación Operación", func(f models.ExtractedFields) string { return f.VerificacionOperacion }},
	{"Observaciones", func(f models.ExtractedFields) string { return f.Observaciones }},
	{"Recepción", func(f models.ExtractedFields) string { return f.Recepcion }},
	{"Evaluación", func(f models.ExtractedFields) string { return f.Evaluacion }},
	{"Hora Entrada", func(f models.ExtractedFields) string { return f.HoraEntrada }},
	{"Hora Salida", func(f models.ExtractedFields) string { return f.HoraSalida }},
}

const confidenceHeader = "Confianza"

// ExportHeaders returns the spreadsheet column titles.
func ExportHeaders() []string {
	headers := make([]string, 0, len(exportColumns)+1)
	for _, c := range exportColumns {
		headers = append(headers, c.header)
	}
	return append(headers, confidenceHeader)
}

func exportRow(res models.Completed) []string {
	row := make([]string, 0, len(exportColumns)+1)
	for _, c := range exportColumns {
		row = append(row, c.value(res.Fields))
	}
	return append(row, strconv.Itoa(res.ConfidenceScore))
}

// WriteCSV writes the completed documents as CSV with a UTF-8 BOM. Other documents are skipped.
// It returns the number of rows written.
func WriteCSV(w io.Writer, docs []models.Document) (int, error) {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return 0, fmt.Errorf("failed to write BOM: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeaders()); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}
	rows := 0
	for _, d := range docs {
		res, ok := d.Result()
		if !ok {
			continue
		}
		if err := cw.Write(exportRow(res)); err != nil {
			return rows, fmt.Errorf("failed to write CSV row for %s: %w", d.Filename, err)
		}
		rows++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return rows, nil
}

// WriteXLSX writes the completed documents to a single-sheet workbook.
func WriteXLSX(w io.Writer, docs []models.Document) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, fmt.Errorf("failed to name sheet: %w", err)
	}

	headers := ExportHeaders()
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return 0, err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return 0, fmt.Errorf("failed to write header %s: %w", h, err)
		}
	}

	rows := 0
	for _, d := range docs {
		res, ok := d.Result()
		if !ok {
			continue
		}
		rowIdx := rows + 2
		for i, v := range exportRow(res) {
			cell, err := excelize.CoordinatesToCellName(i+1, rowIdx)
			if err != nil {
				return rows, err
			}
			var value any = v
			if i == len(headers)-1 {
				value = res.ConfidenceScore
			}
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				return rows, fmt.Errorf("failed to write cell %s: %w", cell, err)
			}
		}
		rows++
	}

	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return rows, err
	}
	if err := f.SetColWidth(exportSheet, "A", lastCol, 22); err != nil {
		return rows, fmt.Errorf("failed to set column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return rows, fmt.Errorf("failed to render workbook: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return rows, fmt.Errorf("failed to write workbook: %w", err)
	}
	return rows, nil
}

// ClipboardSummary renders the main fields of completed documents as tab-separated lines, ready
// to paste into a spreadsheet. Line breaks inside long texts become spaces.
func ClipboardSummary(docs []models.Document) string {
	var lines []string
	for _, d := range docs {
		res, ok := d.Result()
		if !ok {
			continue
		}
		f := res.Fields
		cols := []string{
			f.FolioReporte,
			f.Folio,
			f.Inmueble,
			f.Atencion,
			f.Fecha,
			f.Tecnicos,
			flattenLines(f.FallaReportada),
			flattenLines(f.TrabajoRealizado),
			f.EquipoInstalado,
			f.EquipoRetirado,
			flattenLines(f.Observaciones),
		}
		lines = append(lines, strings.Join(cols, "\t"))
	}
	return strings.Join(lines, "\n")
}

func flattenLines(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ").Replace(s)
}

// ExportFilename names an export file after the capture date, e.g. reportes_comexa_18-10-2026.csv.
func ExportFilename(t time.Time, ext string) string {
	return fmt.Sprintf("reportes_comexa_%s.%s", t.Format("02-01-2006"), ext)
}

// RenderExport renders the documents in the given format ("csv" or "xlsx").
func RenderExport(format string, docs []models.Document) ([]byte, int, error) {
	var buf bytes.Buffer
	var rows int
	var err error
	switch format {
	case "csv":
		rows, err = WriteCSV(&buf, docs)
	case "xlsx":
		rows, err = WriteXLSX(&buf, docs)
	default:
		return nil, 0, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return nil, rows, err
	}
	return buf.Bytes(), rows, nil
}

// ExportContentType returns the MIME type of an export format.
func ExportContentType(format string) string {
	if format == "xlsx" {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}
