package workbooks

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"unicode/utf16"

	"github.com/extrame/xls"
	"github.com/richardlehane/mscfb"
	"github.com/xuri/excelize/v2"
)

// BIFF record identifiers read while vetting a workbook stream.
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recDateMode   = 0x0022
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recMulBlank   = 0x00BE
	recXF         = 0x00E0
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recBlank      = 0x0201
	recNumber     = 0x0203
	recLabel      = 0x0204
	recString     = 0x0207
	recRow        = 0x0208
	recRK         = 0x027E
	recFormat     = 0x041E
	recBOF        = 0x0809

	biff8 = 0x0600
)

var errTruncated = errors.New("workbooks: biff stream truncated")

type cellKey struct{ row, col int }

// legacyCells is what the record walk learns about one worksheet.
type legacyCells struct {
	widths map[int]int
	// text marks cells whose value is a string and must not be re-typed.
	text map[cellKey]bool
	// values replaces what the BIFF reader reports for formula results and
	// date-formatted numbers.
	values map[cellKey]string
}

// legacySource reads a BIFF5/BIFF8 workbook. The upload's compound file is
// parsed with mscfb and only the workbook stream is handed to the BIFF reader,
// re-wrapped in a container it can walk without following corrupt chains.
type legacySource struct {
	sheets []*xls.WorkSheet
	names  []string
	cells  []*legacyCells
}

func openLegacy(path string) (src *legacySource, err error) {
	stream, err := workbookStream(path)
	if err != nil {
		return nil, err
	}
	cells, err := vetWorkbook(stream)
	if err != nil {
		return nil, err
	}

	defer recoverLegacy(&err)
	book, err := xls.OpenReader(bytes.NewReader(compoundFile("Workbook", stream)), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("workbooks: open xls: %w", err)
	}
	if book == nil {
		return nil, errors.New("workbooks: xls has no workbook stream")
	}
	if book.NumSheets() != len(cells) {
		return nil, fmt.Errorf("workbooks: xls lists %d sheets, found %d", book.NumSheets(), len(cells))
	}

	src = &legacySource{cells: cells}
	for i := 0; i < book.NumSheets(); i++ {
		ws := book.GetSheet(i)
		if ws == nil {
			return nil, fmt.Errorf("workbooks: xls sheet %d unreadable", i)
		}
		src.sheets = append(src.sheets, ws)
		src.names = append(src.names, ws.Name)
	}
	return src, nil
}

func (l *legacySource) Sheets() []string { return l.names }

func (l *legacySource) Close() error { return nil }

func (l *legacySource) Rows(sheet string) (rows [][]string, value CellFunc, err error) {
	idx := -1
	for i, name := range l.names {
		if name == sheet {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, fmt.Errorf("workbooks: sheet %q not found", sheet)
	}
	ws, cells := l.sheets[idx], l.cells[idx]

	defer recoverLegacy(&err)
	last := -1
	for r := range cells.widths {
		last = max(last, r)
	}
	rows = make([][]string, last+1)
	for r := 0; r <= last; r++ {
		width := cells.widths[r]
		if width == 0 {
			continue
		}
		row := legacyRow(ws, r)
		out := make([]string, width)
		for c := range out {
			if v, ok := cells.values[cellKey{r, c}]; ok {
				out[c] = v
				continue
			}
			if row != nil {
				out[c] = row.Col(c)
			}
		}
		rows[r] = out
	}

	value = func(row, col int, raw string) any {
		if cells.text[cellKey{row, col}] {
			return raw
		}
		return cellValue(raw)
	}
	return rows, value, nil
}

// legacyRow returns row i, or nil when the reader kept no cells for it.
func legacyRow(ws *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return ws.Row(i)
}

func recoverLegacy(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("workbooks: malformed xls: %v", r)
	}
}

// workbookStream extracts the "Workbook" (BIFF8) or "Book" (BIFF5) stream.
func workbookStream(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	doc, err := mscfb.New(f)
	if err != nil {
		return nil, fmt.Errorf("workbooks: not a compound document: %w", err)
	}
	var book *mscfb.File
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if len(entry.Path) > 0 || entry.FileInfo().IsDir() {
			continue
		}
		switch entry.Name {
		case "Workbook":
			book = entry
		case "Book":
			if book == nil {
				book = entry
			}
		}
	}
	if book == nil {
		return nil, errors.New("workbooks: compound document has no workbook stream")
	}
	if book.Size > info.Size() {
		return nil, fmt.Errorf("workbooks: workbook stream claims %d bytes in a %d byte file", book.Size, info.Size())
	}

	buf := make([]byte, book.Size)
	if _, err := io.ReadFull(book, buf); err != nil {
		return nil, fmt.Errorf("workbooks: read workbook stream: %w", err)
	}
	return buf, nil
}

type biffRecord struct {
	id   uint16
	data []byte
}

// substream returns the records from off through the next EOF record.
func substream(b []byte, off int) ([]biffRecord, error) {
	var recs []biffRecord
	for {
		if off < 0 || off+4 > len(b) {
			return nil, errTruncated
		}
		id := binary.LittleEndian.Uint16(b[off:])
		size := int(binary.LittleEndian.Uint16(b[off+2:]))
		off += 4
		if off+size > len(b) {
			return nil, errTruncated
		}
		recs = append(recs, biffRecord{id: id, data: b[off : off+size]})
		off += size
		if id == recEOF {
			return recs, nil
		}
	}
}

// vetWorkbook checks that every substream the BIFF reader will walk is
// complete and that its cell records have the sizes the reader consumes, then
// collects per-sheet cell facts. Streams failing the check never reach the
// reader.
func vetWorkbook(stream []byte) ([]*legacyCells, error) {
	globals, err := substream(stream, 0)
	if err != nil {
		return nil, err
	}
	if globals[0].id != recBOF || len(globals[0].data) < 4 {
		return nil, errors.New("workbooks: workbook stream does not start with BOF")
	}
	g := &globalsInfo{biff8: binary.LittleEndian.Uint16(globals[0].data) == biff8, formats: map[uint16]string{}}

	var offsets []int
	for _, rec := range globals {
		switch rec.id {
		case recBoundSheet:
			if len(rec.data) < 6 {
				return nil, errTruncated
			}
			offsets = append(offsets, int(binary.LittleEndian.Uint32(rec.data)))
		case recSST:
			if len(rec.data) < 8 {
				return nil, errTruncated
			}
			g.sstCount = binary.LittleEndian.Uint32(rec.data[4:])
			// every entry takes at least three bytes
			if int64(g.sstCount)*3 > int64(len(stream)) {
				return nil, fmt.Errorf("workbooks: sst claims %d strings", g.sstCount)
			}
		case recXF:
			if len(rec.data) < 4 {
				return nil, errTruncated
			}
			g.xfFormats = append(g.xfFormats, binary.LittleEndian.Uint16(rec.data[2:]))
		case recFormat:
			if len(rec.data) < 2 {
				return nil, errTruncated
			}
			g.formats[binary.LittleEndian.Uint16(rec.data)] = formatCode(rec.data[2:], g.biff8)
		case recDateMode:
			g.date1904 = len(rec.data) >= 2 && binary.LittleEndian.Uint16(rec.data) == 1
		}
	}
	if len(offsets) == 0 {
		return nil, errors.New("workbooks: workbook lists no sheets")
	}

	out := make([]*legacyCells, len(offsets))
	for i, off := range offsets {
		recs, err := substream(stream, off)
		if err != nil {
			return nil, fmt.Errorf("workbooks: sheet %d: %w", i, err)
		}
		if recs[0].id != recBOF {
			return nil, fmt.Errorf("workbooks: sheet %d does not start with BOF", i)
		}
		if out[i], err = g.sheetCells(recs); err != nil {
			return nil, fmt.Errorf("workbooks: sheet %d: %w", i, err)
		}
	}
	return out, nil
}

type globalsInfo struct {
	biff8     bool
	date1904  bool
	sstCount  uint32
	xfFormats []uint16
	formats   map[uint16]string
}

func (g *globalsInfo) sheetCells(recs []biffRecord) (*legacyCells, error) {
	cells := &legacyCells{widths: map[int]int{}, text: map[cellKey]bool{}, values: map[cellKey]string{}}
	mark := func(r, c int) {
		cells.widths[r] = max(cells.widths[r], c+1)
	}
	number := func(r, c int, xf uint16, v float64) {
		mark(r, c)
		if !g.dateXF(xf) {
			return
		}
		if t, err := excelize.ExcelDateToTime(v, g.date1904); err == nil {
			layout := "2006-01-02"
			if v != math.Trunc(v) {
				layout = "2006-01-02 15:04:05"
			}
			cells.values[cellKey{r, c}] = t.Format(layout)
			cells.text[cellKey{r, c}] = true
		}
	}

	for i, rec := range recs {
		d := rec.data
		want := -1
		switch rec.id {
		case recRow:
			want = 16
		case recNumber:
			want = 14
		case recRK, recLabelSST:
			want = 10
		case recBlank:
			want = 6
		}
		if want >= 0 && len(d) != want {
			return nil, fmt.Errorf("record %#04x has %d bytes, want %d", rec.id, len(d), want)
		}

		switch rec.id {
		case recNumber:
			r, c := cellAt(d)
			number(r, c, binary.LittleEndian.Uint16(d[4:]), math.Float64frombits(binary.LittleEndian.Uint64(d[6:])))
		case recRK:
			r, c := cellAt(d)
			number(r, c, binary.LittleEndian.Uint16(d[4:]), rkValue(binary.LittleEndian.Uint32(d[6:])))
		case recMulRK:
			if len(d) < 12 || (len(d)-6)%6 != 0 {
				return nil, fmt.Errorf("mulrk record has %d bytes", len(d))
			}
			r, first := cellAt(d)
			n := (len(d) - 6) / 6
			if last := int(binary.LittleEndian.Uint16(d[len(d)-2:])); last != first+n-1 {
				return nil, fmt.Errorf("mulrk spans columns %d-%d with %d values", first, last, n)
			}
			for k := 0; k < n; k++ {
				p := d[4+6*k:]
				number(r, first+k, binary.LittleEndian.Uint16(p), rkValue(binary.LittleEndian.Uint32(p[2:])))
			}
		case recMulBlank:
			if len(d) < 8 || (len(d)-6)%2 != 0 {
				return nil, fmt.Errorf("mulblank record has %d bytes", len(d))
			}
		case recLabelSST:
			r, c := cellAt(d)
			if binary.LittleEndian.Uint32(d[6:]) >= g.sstCount {
				return nil, fmt.Errorf("cell %d,%d references string %d of %d", r, c, binary.LittleEndian.Uint32(d[6:]), g.sstCount)
			}
			mark(r, c)
			cells.text[cellKey{r, c}] = true
		case recLabel:
			if len(d) < 8 {
				return nil, errTruncated
			}
			r, c := cellAt(d)
			mark(r, c)
			cells.text[cellKey{r, c}] = true
		case recFormula:
			if len(d) < 20 {
				return nil, fmt.Errorf("formula record has %d bytes", len(d))
			}
			r, c := cellAt(d)
			mark(r, c)
			key := cellKey{r, c}
			res := d[6:14]
			if res[6] != 0xFF || res[7] != 0xFF {
				v := math.Float64frombits(binary.LittleEndian.Uint64(res))
				cells.values[key] = strconv.FormatFloat(v, 'f', -1, 64)
				number(r, c, binary.LittleEndian.Uint16(d[4:]), v)
				continue
			}
			switch res[0] {
			case 0: // string result in the following STRING record
				cells.values[key] = ""
				if i+1 < len(recs) && recs[i+1].id == recString && len(recs[i+1].data) >= 2 {
					cells.values[key] = biffString(recs[i+1].data, g.biff8)
				}
				cells.text[key] = true
			case 1:
				cells.values[key] = "FALSE"
				if res[2] != 0 {
					cells.values[key] = "TRUE"
				}
			default:
				cells.values[key] = ""
			}
		}
	}
	return cells, nil
}

// dateXF reports whether the XF at idx applies a date or time format.
func (g *globalsInfo) dateXF(idx uint16) bool {
	if int(idx) >= len(g.xfFormats) {
		return false
	}
	id := g.xfFormats[idx]
	if code, ok := g.formats[id]; ok {
		return dateFormatCode(code)
	}
	return builtinDateFormat(int(id))
}

func cellAt(d []byte) (row, col int) {
	return int(binary.LittleEndian.Uint16(d)), int(binary.LittleEndian.Uint16(d[2:]))
}

// rkValue decodes an RK number: a 30-bit integer or the high bits of a
// float64, optionally scaled by 100.
func rkValue(rk uint32) float64 {
	var v float64
	if rk&2 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&^3) << 32)
	}
	if rk&1 != 0 {
		v /= 100
	}
	return v
}

// formatCode decodes a FORMAT record's code, which BIFF5 prefixes with a
// one-byte length.
func formatCode(b []byte, biff8 bool) string {
	if biff8 {
		return biffString(b, true)
	}
	if len(b) < 1 {
		return ""
	}
	return string(b[1:][:min(int(b[0]), len(b)-1)])
}

// biffString decodes a length-prefixed string: BIFF8 carries an option byte
// selecting compressed or UTF-16 characters, BIFF5 stores bytes.
func biffString(b []byte, biff8 bool) string {
	if len(b) < 2 {
		return ""
	}
	n := int(binary.LittleEndian.Uint16(b))
	b = b[2:]
	if !biff8 {
		return string(b[:min(n, len(b))])
	}
	if len(b) < 1 {
		return ""
	}
	flags := b[0]
	b = b[1:]
	if flags&0x08 != 0 {
		b = b[min(2, len(b)):]
	}
	if flags&0x04 != 0 {
		b = b[min(4, len(b)):]
	}
	if flags&0x01 == 0 {
		runes := make([]rune, 0, n)
		for _, c := range b[:min(n, len(b))] {
			runes = append(runes, rune(c))
		}
		return string(runes)
	}
	units := make([]uint16, 0, n)
	for i := 0; i+1 < len(b) && len(units) < n; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(b[i:]))
	}
	return string(utf16.Decode(units))
}
