// internal/service/upload/upload.go
package upload

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/karhin20/flowback/internal/domain/batch"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/service/validator"
)

// FirstDataRow is the spreadsheet row number of the first record; row 1 is
// the header.
const FirstDataRow = 2

var requiredColumns = []string{"name", "account_number", "phone"}

// Parse reads an .xlsx or .csv upload into raw rows keyed by canonical
// column name. Missing cells are nil.
func Parse(r io.Reader, filename string) ([]batch.RawRow, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		table [][]string
		err   error
	)
	switch ext {
	case ".csv":
		table, err = readCSV(r)
	case ".xlsx":
		table, err = readXLSX(r)
	default:
		return nil, xerrors.NewValidationError(xerrors.FieldError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported file type %q, use .xlsx or .csv", ext),
		})
	}
	if err != nil {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "file", Message: err.Error()})
	}
	return rows(table)
}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	table, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("could not read csv: %w", err)
	}
	return table, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}
	table, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("could not read sheet %q: %w", sheet, err)
	}
	return table, nil
}

func rows(table [][]string) ([]batch.RawRow, error) {
	if len(table) == 0 {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "file", Message: "file is empty"})
	}

	header := make([]string, len(table[0]))
	present := make(map[string]bool, len(header))
	for i, h := range table[0] {
		header[i] = validator.CanonicalColumn(h)
		present[header[i]] = true
	}
	verr := xerrors.NewValidationError()
	for _, col := range requiredColumns {
		if !present[col] {
			verr.Add("file", fmt.Sprintf("missing required column %q", col))
		}
	}
	if verr.HasErrors() {
		return nil, verr
	}

	// Trailing blank lines are dropped; blank lines in the middle keep their
	// position so row numbers match the sheet.
	body := table[1:]
	for len(body) > 0 && blank(body[len(body)-1]) {
		body = body[:len(body)-1]
	}
	if len(body) == 0 {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "file", Message: "file has no data rows"})
	}

	out := make([]batch.RawRow, 0, len(body))
	for _, line := range body {
		raw := make(batch.RawRow, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if cur := raw[col]; cur != nil && strings.TrimSpace(*cur) != "" {
				continue
			}
			if i < len(line) {
				raw[col] = batch.Str(line[i])
			} else if _, ok := raw[col]; !ok {
				raw[col] = nil
			}
		}
		out = append(out, raw)
	}
	return out, nil
}

func blank(line []string) bool {
	for _, cell := range line {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
