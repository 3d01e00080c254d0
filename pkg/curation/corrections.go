package curation

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	ColumnEntityID        = "entityId"
	ColumnDecision        = "decision"
	ColumnApprovedTerm    = "approvedTerm"
	ColumnApprovedTermURL = "approvedTermUrl"
)

// Correction is one curator decision row. Line is the 1-based sheet row;
// Problems holds the row's parse errors.
type Correction struct {
	Line            int
	EntityID        int64
	Decision        string
	ApprovedTerm    string
	ApprovedTermURL string
	Problems        []string
}

// Rejected reports a "no" decision, i.e. the proposed term was wrong.
func (c Correction) Rejected() bool {
	return strings.EqualFold(c.Decision, "no")
}

// ParseCorrectionsCSV reads a header row followed by decision rows.
func ParseCorrectionsCSV(r io.Reader) ([]Correction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, ValidationError{Problems: []string{fmt.Sprintf("invalid csv: %v", err)}}
	}
	return parseCorrectionRows(rows)
}

// ParseCorrectionsXLSX reads the first sheet of a workbook.
func ParseCorrectionsXLSX(r io.Reader) ([]Correction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, ValidationError{Problems: []string{fmt.Sprintf("invalid xlsx: %v", err)}}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ValidationError{Problems: []string{"workbook has no sheets"}}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, ValidationError{Problems: []string{fmt.Sprintf("failed to read rows: %v", err)}}
	}
	return parseCorrectionRows(rows)
}

func parseCorrectionRows(rows [][]string) ([]Correction, error) {
	if len(rows) == 0 {
		return nil, ValidationError{Problems: []string{"upload is empty"}}
	}

	columns := map[string]int{}
	for i, name := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	var missing []string
	for _, required := range []string{ColumnEntityID, ColumnDecision} {
		if _, ok := columns[strings.ToLower(required)]; !ok {
			missing = append(missing, fmt.Sprintf("missing column %s", required))
		}
	}
	if len(missing) > 0 {
		return nil, ValidationError{Problems: missing}
	}

	cell := func(row []string, name string) string {
		i, ok := columns[strings.ToLower(name)]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]Correction, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		c := Correction{
			Line:            n + 2,
			Decision:        cell(row, ColumnDecision),
			ApprovedTerm:    cell(row, ColumnApprovedTerm),
			ApprovedTermURL: cell(row, ColumnApprovedTermURL),
		}

		id, err := strconv.ParseInt(cell(row, ColumnEntityID), 10, 64)
		if err != nil || id <= 0 {
			c.Problems = append(c.Problems, fmt.Sprintf("row %d: invalid entityId %q", c.Line, cell(row, ColumnEntityID)))
		}
		c.EntityID = id

		switch strings.ToLower(c.Decision) {
		case "yes":
		case "no":
			if c.ApprovedTerm == "" {
				c.Problems = append(c.Problems, fmt.Sprintf("row %d: approvedTerm is required when decision is no", c.Line))
			}
		default:
			c.Problems = append(c.Problems, fmt.Sprintf("row %d: decision must be yes or no, got %q", c.Line, c.Decision))
		}
		out = append(out, c)
	}
	return out, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
