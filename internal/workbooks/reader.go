package workbooks

import (
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// sheetSource is an opened workbook the summarizer reads from.
type sheetSource interface {
	// Sheets lists sheet names in declaration order.
	Sheets() []string
	// Rows returns the raw rows of sheet together with the typer for its
	// cells. A nil CellFunc leaves typing to the cell text.
	Rows(sheet string) ([][]string, CellFunc, error)
	Close() error
}

// openSource opens path with the reader matching its extension.
func openSource(path, ext string) (sheetSource, error) {
	if ext == ".xls" {
		src, err := openLegacy(path)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &xlsxSource{f: f}, nil
}

type xlsxSource struct {
	f *excelize.File
}

func (x *xlsxSource) Sheets() []string { return x.f.GetSheetList() }

func (x *xlsxSource) Close() error { return x.f.Close() }

// Rows reads unformatted values so stored strings stay strings and numbers
// are not rendered through their display format.
func (x *xlsxSource) Rows(sheet string) ([][]string, CellFunc, error) {
	rows, err := x.f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, err
	}
	return rows, func(row, col int, raw string) any { return x.value(sheet, row, col, raw) }, nil
}

// value types a cell from its stored type rather than its text.
func (x *xlsxSource) value(sheet string, row, col int, raw string) any {
	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return cellValue(raw)
	}
	typ, err := x.f.GetCellType(sheet, cell)
	if err != nil {
		return cellValue(raw)
	}
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString,
		excelize.CellTypeFormula, excelize.CellTypeError:
		return raw
	case excelize.CellTypeBool:
		return raw == "1"
	case excelize.CellTypeDate:
		return x.formatted(sheet, cell, raw)
	}

	if x.dateStyled(sheet, cell) {
		return x.formatted(sheet, cell, raw)
	}
	t := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(t, 10, 64); err == nil {
		return n
	}
	if v, ok := finite(t); ok {
		return v
	}
	return raw
}

func (x *xlsxSource) formatted(sheet, cell, raw string) string {
	v, err := x.f.GetCellValue(sheet, cell)
	if err != nil || v == "" {
		return raw
	}
	return v
}

// dateStyled reports whether the cell's number format renders a date or time.
func (x *xlsxSource) dateStyled(sheet, cell string) bool {
	idx, err := x.f.GetCellStyle(sheet, cell)
	if err != nil || idx == 0 {
		return false
	}
	style, err := x.f.GetStyle(idx)
	if err != nil || style == nil {
		return false
	}
	if style.CustomNumFmt != nil {
		return dateFormatCode(*style.CustomNumFmt)
	}
	return builtinDateFormat(style.NumFmt)
}

func builtinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22, id >= 27 && id <= 36, id >= 45 && id <= 47, id >= 50 && id <= 58:
		return true
	}
	return false
}

// dateFormatCode reports whether a custom format code has date or time
// tokens outside quoted literals, bracketed sections and escapes.
func dateFormatCode(code string) bool {
	// only the positive section decides
	if i := strings.IndexByte(code, ';'); i >= 0 {
		code = code[:i]
	}
	for i := 0; i < len(code); i++ {
		switch c := code[i]; c {
		case '"':
			if j := strings.IndexByte(code[i+1:], '"'); j >= 0 {
				i += j + 1
			} else {
				return false
			}
		case '[':
			if j := strings.IndexByte(code[i+1:], ']'); j >= 0 {
				inner := strings.ToLower(code[i+1 : i+1+j])
				// elapsed time such as [h]:mm
				if inner == "h" || inner == "hh" || inner == "m" || inner == "mm" || inner == "s" || inner == "ss" {
					return true
				}
				i += j + 1
			}
		case '\\', '_', '*':
			i++
		default:
			switch c | 0x20 {
			case 'y', 'm', 'd', 'h', 's':
				return true
			}
		}
	}
	return false
}
