package storage

import (
	"encoding/csv"
	"os"

	"github.com/concentra-io/concentra/internal/table"
	"github.com/concentra-io/concentra/internal/util"
)

// WriteDelimited renders t as CSV at path, one column per Column in order.
func WriteDelimited(t *table.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return util.WrapKindError(util.KindInternal, err, "failed to create delimited output")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := t.ColumnNames()
	if err := w.Write(headers); err != nil {
		return util.WrapError(err, "failed to write delimited header")
	}
	for i := 0; i < t.NumRows(); i++ {
		rec := make([]string, len(t.Columns))
		for ci, c := range t.Columns {
			if i < len(c.Values) && !c.Values[i].IsNull() {
				rec[ci] = c.Values[i].String()
			}
		}
		if err := w.Write(rec); err != nil {
			return util.WrapError(err, "failed to write delimited row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return util.WrapError(err, "delimited writer flush failed")
	}
	return nil
}
