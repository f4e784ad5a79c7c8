package sku

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultColumn is the header looked up when SourceOptions.Column is empty.
const DefaultColumn = "SKU"

// ErrColumnNotFound is returned when the header row lacks the SKU column.
var ErrColumnNotFound = errors.New("column not found")

// ErrUnsupportedSource is returned for files that are neither a workbook nor CSV.
var ErrUnsupportedSource = errors.New("unsupported identifier source")

// SourceOptions selects where identifiers live inside a spreadsheet.
type SourceOptions struct {
	// Column is the header text of the identifier column (default "SKU").
	Column string
	// Sheet is the worksheet name; empty means the first sheet. Ignored for CSV.
	Sheet string
}

// ReadIdentifiers returns the trimmed, non-blank cells of the identifier
// column in row order. The first row is treated as the header.
//
// Workbooks (.xlsx, .xlsm, .xltx, .xltm) are read with excelize; .csv files
// with encoding/csv.
func ReadIdentifiers(path string, opts SourceOptions) ([]string, error) {
	if opts.Column == "" {
		opts.Column = DefaultColumn
	}

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		rows, err = readWorkbook(path, opts.Sheet)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, path)
	}
	if err != nil {
		return nil, err
	}
	return columnValues(rows, opts.Column)
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func columnValues(rows [][]string, column string) ([]string, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %q (no header row)", ErrColumnNotFound, column)
	}

	idx := -1
	for i, header := range rows[0] {
		if strings.TrimSpace(header) == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}

	values := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		// excelize drops trailing empty cells, so short rows are blanks
		if idx >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[idx])
		if v == "" {
			continue
		}
		values = append(values, v)
	}
	return values, nil
}
