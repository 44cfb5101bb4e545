package storage

import (
	"io"
	"os"
	"strings"

	"github.com/concentra-io/concentra/internal/table"
	"github.com/concentra-io/concentra/internal/util"
)

// DelimitedOptions configures ReadDelimited.
type DelimitedOptions struct {
	// Delimiter is the field separator. Zero value triggers autodetection
	// (comma, falling back to semicolon or tab when the header line yields
	// only one column with comma).
	Delimiter rune
	// MaxBytes bounds the file size; zero means no limit (the caller -
	// the pipeline controller - is expected to always set this from
	// configuration).
	MaxBytes int64
}

// ReadDelimited reads a CSV/TSV file into a RawTable, preserving null (an
// entirely empty, unquoted field) as distinct from an explicit empty
// string ("" - a quoted empty field), and preserving leading zeros by
// never interpreting field contents at this stage.
//
// Embedded newlines inside quoted fields are supported; the header row
// itself is assumed not to span multiple physical lines.
func ReadDelimited(path string, opts DelimitedOptions) (*table.RawTable, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, util.WrapKindError(util.KindNotFound, err, "delimited file not found")
	}
	if opts.MaxBytes > 0 && info.Size() > opts.MaxBytes {
		return nil, util.NewKindError(util.KindPayloadTooLarge, "file exceeds configured byte limit")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, util.WrapKindError(util.KindNotFound, err, "failed to open delimited file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, util.WrapError(err, "failed to read delimited file")
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = detectDelimiter(data)
	}

	records, quoted, err := splitDelimited(string(data), delim)
	if err != nil {
		return nil, util.WrapKindError(util.KindValidation, err, "failed to parse delimited file")
	}
	if len(records) == 0 {
		return &table.RawTable{}, nil
	}

	headers := records[0]
	rt := &table.RawTable{Headers: headers}
	for ri := 1; ri < len(records); ri++ {
		rec := records[ri]
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue // skip fully blank trailing lines
		}
		row := make([]string, len(headers))
		nullSet := map[int]bool{}
		for ci := range headers {
			if ci < len(rec) {
				row[ci] = rec[ci]
				if rec[ci] == "" && (ri >= len(quoted) || ci >= len(quoted[ri]) || !quoted[ri][ci]) {
					nullSet[ci] = true
				}
			} else {
				nullSet[ci] = true
			}
		}
		rt.Rows = append(rt.Rows, row)
		rt.NullAt = append(rt.NullAt, nullSet)
	}
	return rt, nil
}

// detectDelimiter picks ',' unless the header line contains no commas but
// does contain semicolons or tabs - common for EU-locale exports.
func detectDelimiter(data []byte) rune {
	nl := strings.IndexByte(string(data), '\n')
	header := string(data)
	if nl >= 0 {
		header = header[:nl]
	}
	if strings.Count(header, ",") == 0 {
		if strings.Count(header, ";") > 0 {
			return ';'
		}
		if strings.Count(header, "\t") > 0 {
			return '\t'
		}
	}
	return ','
}

// splitDelimited is a small RFC4180-ish tokenizer that additionally
// reports, per field, whether it was wrapped in quotes (so a quoted empty
// field can be told apart from a bare empty field).
func splitDelimited(data string, delim rune) (records [][]string, quoted [][]bool, err error) {
	var (
		fields    []string
		fieldQuot []bool
		cur       strings.Builder
		inQuotes  bool
		wasQuoted bool
		i         int
		n         = len(data)
	)
	flushField := func() {
		fields = append(fields, cur.String())
		fieldQuot = append(fieldQuot, wasQuoted)
		cur.Reset()
		wasQuoted = false
	}
	flushRecord := func() {
		flushField()
		records = append(records, fields)
		quoted = append(quoted, fieldQuot)
		fields = nil
		fieldQuot = nil
	}

	for i < n {
		ch := rune(data[i])
		switch {
		case inQuotes:
			if ch == '"' {
				if i+1 < n && data[i+1] == '"' {
					cur.WriteByte('"')
					i += 2
					continue
				}
				inQuotes = false
				i++
				continue
			}
			cur.WriteByte(data[i])
			i++
		case ch == '"' && cur.Len() == 0 && !wasQuoted:
			inQuotes = true
			wasQuoted = true
			i++
		case ch == delim:
			flushField()
			i++
		case ch == '\r':
			i++
		case ch == '\n':
			flushRecord()
			i++
		default:
			cur.WriteByte(data[i])
			i++
		}
	}
	if cur.Len() > 0 || len(fields) > 0 {
		flushRecord()
	}
	return records, quoted, nil
}
