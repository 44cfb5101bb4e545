package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/concentra-io/concentra/internal/table"
	"github.com/concentra-io/concentra/internal/util"
)

// columnar files are self-describing at the parquet level (physical type
// per column) but a parquet INT64 cannot be told apart from a timestamp
// stored as epoch-millis purely by re-reading the file, so we keep a small
// sidecar next to the .parquet file recording each column's table.Kind.
// This lets ReadColumnar round-trip without depending on the registry's
// schema.json, keeping Storage self-contained per its component contract.
func sidecarPath(path string) string { return path + ".kinds.json" }

type columnKindSidecar struct {
	Name string     `json:"name"`
	Kind table.Kind `json:"kind"`
}

// WriteColumnar writes t to path as a parquet file, using a JSON-described
// schema built at request time so no generated Go struct is needed for any
// particular dataset's shape (see design notes on dynamic, per-dataset
// schema discovery).
func WriteColumnar(t *table.Table, path string) error {
	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return util.WrapKindError(util.KindInternal, err, "failed to open columnar temp file")
	}

	jsonSchema := buildParquetJSONSchema(t)
	pw, err := writer.NewJSONWriter(jsonSchema, fw, 4)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return util.WrapKindError(util.KindInternal, err, "failed to initialize columnar writer")
	}

	sidecar := make([]columnKindSidecar, len(t.Columns))
	for ci, c := range t.Columns {
		sidecar[ci] = columnKindSidecar{Name: c.Name, Kind: c.Kind}
	}

	for ri := 0; ri < t.NumRows(); ri++ {
		row := make(map[string]interface{}, len(t.Columns))
		for _, c := range t.Columns {
			var v table.Value
			if ri < len(c.Values) {
				v = c.Values[ri]
			}
			row[c.Name] = parquetCellValue(v)
		}
		rec, err := json.Marshal(row)
		if err != nil {
			fw.Close()
			os.Remove(tmp)
			return util.WrapError(err, "failed to marshal columnar row")
		}
		if err := pw.Write(string(rec)); err != nil {
			fw.Close()
			os.Remove(tmp)
			return util.WrapKindError(util.KindInternal, err, "failed to write columnar row")
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(tmp)
		return util.WrapKindError(util.KindInternal, err, "failed to finalize columnar file")
	}
	if err := fw.Close(); err != nil {
		os.Remove(tmp)
		return util.WrapKindError(util.KindInternal, err, "failed to close columnar file")
	}

	sidecarBytes, err := json.Marshal(sidecar)
	if err != nil {
		os.Remove(tmp)
		return util.WrapError(err, "failed to marshal columnar sidecar")
	}
	if err := os.WriteFile(sidecarPath(tmp), sidecarBytes, 0o644); err != nil {
		os.Remove(tmp)
		return util.WrapKindError(util.KindInternal, err, "failed to write columnar sidecar")
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		os.Remove(sidecarPath(tmp))
		return util.WrapKindError(util.KindInternal, err, "failed to commit columnar file")
	}
	if err := os.Rename(sidecarPath(tmp), sidecarPath(path)); err != nil {
		return util.WrapKindError(util.KindInternal, err, "failed to commit columnar sidecar")
	}
	return nil
}

// ReadColumnar reads a parquet file written by WriteColumnar back into a
// typed Table, row count, column names, null positions, and numeric values
// preserved exactly.
func ReadColumnar(path string) (*table.Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, util.WrapKindError(util.KindNotFound, err, "columnar file not found")
	}

	sidecarBytes, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return nil, util.WrapKindError(util.KindNotFound, err, "columnar sidecar not found")
	}
	var sidecar []columnKindSidecar
	if err := json.Unmarshal(sidecarBytes, &sidecar); err != nil {
		return nil, util.WrapError(err, "failed to parse columnar sidecar")
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, util.WrapKindError(util.KindNotFound, err, "failed to open columnar file")
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, map[string]interface{}{}, 1)
	if err != nil {
		return nil, util.WrapKindError(util.KindInternal, err, "failed to initialize columnar reader")
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	t := table.New()
	cols := make([]*table.Column, len(sidecar))
	for i, sc := range sidecar {
		cols[i] = table.NewColumn(sc.Name, sc.Kind, numRows)
		t.AddColumn(cols[i])
	}

	const batchSize = 1000
	for read := 0; read < numRows; {
		n := batchSize
		if numRows-read < n {
			n = numRows - read
		}
		data := make([]interface{}, n)
		if err := pr.Read(&data); err != nil {
			return nil, util.WrapKindError(util.KindInternal, err, "failed reading columnar rows")
		}
		for _, rowData := range data {
			m, ok := rowData.(map[string]interface{})
			if !ok {
				continue
			}
			for _, sc := range sidecar {
				c, _ := t.ColumnByName(sc.Name)
				c.Append(valueFromParquetCell(m[sc.Name], sc.Kind))
			}
		}
		read += n
	}
	return t, nil
}

func buildParquetJSONSchema(t *table.Table) string {
	type field struct {
		Tag string `json:"Tag"`
	}
	type schema struct {
		Tag    string  `json:"Tag"`
		Fields []field `json:"Fields"`
	}
	s := schema{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for _, c := range t.Columns {
		var tag string
		switch c.Kind {
		case table.KindInt64, table.KindTime:
			tag = fmt.Sprintf("name=%s, type=INT64, repetitiontype=OPTIONAL", c.Name)
		case table.KindFloat64:
			tag = fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", c.Name)
		case table.KindBool:
			tag = fmt.Sprintf("name=%s, type=BOOLEAN, repetitiontype=OPTIONAL", c.Name)
		default:
			tag = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c.Name)
		}
		s.Fields = append(s.Fields, field{Tag: tag})
	}
	out, _ := json.Marshal(s)
	return string(out)
}

func parquetCellValue(v table.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case table.KindInt64:
		return v.Int()
	case table.KindTime:
		return v.Time().UTC().UnixMilli()
	case table.KindFloat64:
		return v.Float()
	case table.KindBool:
		return v.Bool()
	default:
		return v.String()
	}
}

func valueFromParquetCell(raw interface{}, kind table.Kind) table.Value {
	if raw == nil {
		return table.Null()
	}
	switch kind {
	case table.KindInt64:
		return table.IntValue(toInt64(raw))
	case table.KindTime:
		return table.TimeValue(time.UnixMilli(toInt64(raw)).UTC())
	case table.KindFloat64:
		return table.FloatValue(toFloat64(raw))
	case table.KindBool:
		if b, ok := raw.(bool); ok {
			return table.BoolValue(b)
		}
		return table.Null()
	default:
		if s, ok := raw.(string); ok {
			return table.StringValue(s)
		}
		return table.StringValue(fmt.Sprintf("%v", raw))
	}
}

func toInt64(raw interface{}) int64 {
	switch n := raw.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(raw interface{}) float64 {
	switch n := raw.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
