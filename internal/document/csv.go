package document

import (
	"bytes"
	"encoding/csv"
	"io"
)

// decodeCSV reads a header row and data rows. Rows may differ in length.
func decodeCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	t := &Table{}
	if len(records) == 0 {
		return t, nil
	}
	t.Header = records[0]
	t.Rows = records[1:]
	return t, nil
}

func encodeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if t.Header != nil {
		if err := cw.Write(t.Header); err != nil {
			return err
		}
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
