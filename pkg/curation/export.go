package curation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/synaptica-ai/curator/pkg/mapping"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Mappings"

// exportHeader lists the attribute labels of every type once, followed by
// the mapping columns and the empty curator decision columns.
func exportHeader() []string {
	header := []string{ColumnEntityID, "entityType"}
	seen := map[string]bool{}
	for _, t := range mapping.Types() {
		for _, label := range mapping.LabelsFor(t) {
			if !seen[label] {
				seen[label] = true
				header = append(header, label)
			}
		}
	}
	return append(header,
		"mappedTermLabel", "mappedTermUrl", "mapType", "justification", "status",
		ColumnDecision, ColumnApprovedTerm, ColumnApprovedTermURL,
	)
}

func exportRow(header []string, rec *mapping.Record) []string {
	row := make([]string, len(header))
	for i, col := range header {
		switch col {
		case ColumnEntityID:
			row[i] = strconv.FormatInt(rec.EntityID, 10)
		case "entityType":
			row[i] = string(rec.Type)
		case "mappedTermLabel":
			row[i] = rec.MappedTermLabel
		case "mappedTermUrl":
			row[i] = rec.MappedTermURL
		case "mapType":
			row[i] = rec.MapMethod
		case "justification":
			row[i] = rec.Justification
		case "status":
			row[i] = string(rec.Status)
		case ColumnDecision, ColumnApprovedTerm, ColumnApprovedTermURL:
		default:
			row[i] = rec.Value(col)
		}
	}
	return row
}

func WriteCSV(w io.Writer, records []*mapping.Record) error {
	header := exportHeader()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(exportRow(header, rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteXLSX(w io.Writer, records []*mapping.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := exportHeader()
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := setRow(f, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, rec := range records {
		if err := setRow(f, i+2, exportRow(header, rec)); err != nil {
			return err
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(exportSheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}
