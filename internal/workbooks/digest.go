package workbooks

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vinodismyname/excelask/pkg/apierr"
)

// Record is one sample row, keyed by column name in sheet order.
type Record = orderedmap.OrderedMap[string, any]

// Digest is the condensed summary of one sheet sent to the completion service.
type Digest struct {
	Filename     string    `json:"filename"`
	Sheet        string    `json:"sheet"`
	Sheets       []string  `json:"sheets"`
	TotalRows    int       `json:"total_rows"`
	TotalColumns int       `json:"total_columns"`
	Columns      []string  `json:"columns"`
	FirstRows    []*Record `json:"first_rows"`
}

// Shape bounds how much of a sheet a Digest carries.
type Shape struct {
	ColumnCap  int
	SampleRows int
}

// SelectSheet returns the first sheet, in declaration order, whose name
// contains token case-insensitively; otherwise the first sheet. An empty token
// always selects the first sheet. sheets must be non-empty.
func SelectSheet(sheets []string, token string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	if t != "" {
		for _, name := range sheets {
			if strings.Contains(strings.ToLower(name), t) {
				return name
			}
		}
	}
	return sheets[0]
}

// CellFunc types the non-blank cell at the zero-based sheet coordinates
// (row, col) whose raw text is raw.
type CellFunc func(row, col int, raw string) any

// BuildDigest projects the rows of a sheet into a Digest. Blank rows are
// skipped: the first non-blank row is the header and every later non-blank
// row is data. value types each non-blank cell; nil infers the type from the
// text. A sheet with no cell data at all is an EmptySheet error; a header-only
// sheet is a valid digest with zero rows.
func BuildDigest(filename, sheet string, rows [][]string, shape Shape, value CellFunc) (*Digest, error) {
	if value == nil {
		value = func(_, _ int, raw string) any { return cellValue(raw) }
	}

	header := -1
	var data []int
	width := 0
	for i, r := range rows {
		n := usedWidth(r)
		if n == 0 {
			continue
		}
		width = max(width, n)
		if header < 0 {
			header = i
			continue
		}
		data = append(data, i)
	}
	if header < 0 {
		return nil, apierr.Newf(apierr.EmptySheet, "Excel file is empty: sheet %q has no data", sheet)
	}

	names := columnNames(rows[header], width)

	d := &Digest{
		Filename:     filename,
		Sheet:        sheet,
		TotalRows:    len(data),
		TotalColumns: width,
		Columns:      names[:min(shape.ColumnCap, width)],
		FirstRows:    make([]*Record, 0, min(shape.SampleRows, len(data))),
	}

	for _, ri := range data[:min(shape.SampleRows, len(data))] {
		row := rows[ri]
		rec := orderedmap.New[string, any]()
		for j, name := range names {
			var val any
			if j < len(row) && strings.TrimSpace(row[j]) != "" {
				val = value(ri, j, row[j])
			}
			rec.Set(name, val)
		}
		d.FirstRows = append(d.FirstRows, rec)
	}
	return d, nil
}

// columnNames pads the header to width, names blank cells "Unnamed: <i>" and
// suffixes repeats with ".N" so every column keeps a distinct key.
func columnNames(header []string, width int) []string {
	names := make([]string, width)
	used := make(map[string]bool, width)
	repeats := make(map[string]int, width)
	for i := 0; i < width; i++ {
		base := ""
		if i < len(header) {
			base = strings.TrimSpace(header[i])
		}
		if base == "" {
			base = fmt.Sprintf("Unnamed: %d", i)
		}
		name := base
		for used[name] {
			repeats[base]++
			name = fmt.Sprintf("%s.%d", base, repeats[base])
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// usedWidth is one past the last non-blank cell of r, zero for a blank row.
func usedWidth(r []string) int {
	for i := len(r) - 1; i >= 0; i-- {
		if strings.TrimSpace(r[i]) != "" {
			return i + 1
		}
	}
	return 0
}

// cellValue types a formatted cell: blank → nil, integers → int64, other
// finite numbers → float64, TRUE/FALSE → bool, anything else verbatim.
func cellValue(s string) any {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil
	}
	if n, err := strconv.ParseInt(t, 10, 64); err == nil {
		return n
	}
	if f, ok := finite(t); ok {
		return f
	}
	switch t {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return s
}

func finite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
