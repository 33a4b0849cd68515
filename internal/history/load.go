package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Simplici0/foodcost/internal/program"
)

// Required column headers. Matching is exact.
const (
	ColumnProgram = "PROGRAM"
	ColumnCost    = "Cost"
	ColumnWeight  = "Weight"
)

// Record is one observed historical transaction.
type Record struct {
	Program program.ID `json:"program"`
	Cost    float64    `json:"cost"`
	Weight  float64    `json:"weight"`
}

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported history file format")

// LoadError describes malformed historical input. Row is 1-based and
// counts the header row; it is 0 for errors not tied to a row.
type LoadError struct {
	Row    int
	Column string
	Err    error
}

func (e *LoadError) Error() string {
	switch {
	case e.Row > 0 && e.Column != "":
		return fmt.Sprintf("history row %d column %s: %v", e.Row, e.Column, e.Err)
	case e.Column != "":
		return fmt.Sprintf("history column %s: %v", e.Column, e.Err)
	default:
		return fmt.Sprintf("history: %v", e.Err)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadFile reads records from a .csv or .xlsx file.
func LoadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	return Read(f, filepath.Ext(path))
}

// Read parses records from r. ext selects the format (".csv" or ".xlsx").
func Read(r io.Reader, ext string) ([]Record, error) {
	switch strings.ToLower(ext) {
	case ".csv":
		return ReadCSV(r)
	case ".xlsx":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ReadCSV parses comma-separated history with a header row.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, &LoadError{Err: fmt.Errorf("read csv: %w", err)}
	}
	return parseRows(rows)
}

// ReadXLSX parses the first sheet of a workbook with a header row.
func ReadXLSX(r io.Reader) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &LoadError{Err: fmt.Errorf("open workbook: %w", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &LoadError{Err: errors.New("workbook has no sheets")}
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &LoadError{Err: fmt.Errorf("read sheet %s: %w", sheets[0], err)}
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]Record, error) {
	if len(rows) == 0 {
		return nil, &LoadError{Err: errors.New("missing header row")}
	}

	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	cols := make(map[string]int, 3)
	for _, name := range []string{ColumnProgram, ColumnCost, ColumnWeight} {
		i, ok := index[name]
		if !ok {
			return nil, &LoadError{Column: name, Err: errors.New("required column missing")}
		}
		cols[name] = i
	}

	records := make([]Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		rowNum := n + 2

		cost, err := numericCell(row, cols[ColumnCost])
		if err != nil {
			return nil, &LoadError{Row: rowNum, Column: ColumnCost, Err: err}
		}
		weight, err := numericCell(row, cols[ColumnWeight])
		if err != nil {
			return nil, &LoadError{Row: rowNum, Column: ColumnWeight, Err: err}
		}

		records = append(records, Record{
			Program: program.ID(cell(row, cols[ColumnProgram])),
			Cost:    cost,
			Weight:  weight,
		})
	}
	return records, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func numericCell(row []string, i int) (float64, error) {
	raw := cell(row, i)
	if raw == "" {
		return 0, errors.New("value is empty")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("value %q is not a finite number", raw)
	}
	return v, nil
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
