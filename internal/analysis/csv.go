package analysis

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"playbook-engine/internal/models"
)

// ErrEmptyCSV is returned for input without a header row.
var ErrEmptyCSV = errors.New("csv has no header")

// Dataset is a parsed tabular source: ordered columns plus rows keyed by column name.
type Dataset struct {
	Columns []models.Column
	Rows    []models.Row
}

// ColumnNames returns the header in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// ParseCSV reads a CSV whose first line is the header. The delimiter is comma or
// semicolon, whichever occurs more often in the header. Cells stay strings; type
// detection happens later.
func ParseCSV(r io.Reader) (*Dataset, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	reader := csv.NewReader(br)
	reader.Comma = detectDelimiter(head)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	ds := &Dataset{Columns: make([]models.Column, len(headers))}
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("coluna_%d", i+1)
		}
		headers[i] = h
		ds.Columns[i] = models.Column{Name: h}
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		row := make(models.Row, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			} else {
				row[h] = nil
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// ParseCSVFile opens and parses a CSV file.
func ParseCSVFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}

func detectDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if bytes.Count(head, []byte{';'}) > bytes.Count(head, []byte{','}) {
		return ';'
	}
	return ','
}
