package adapter

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

var submissionColumns = []string{"dealer_id", "metal_slug", "price", "unit", "location_zip", "notes"}

// ReadSubmissionsCSV parses dealer postings with a header row. Columns are
// matched by name; dealer_id, metal_slug and price are required, the rest
// optional.
func ReadSubmissionsCSV(r io.Reader) ([]Submission, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range submissionColumns[:3] {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidSubmission, required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	out := make([]Submission, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		price, err := decimal.NewFromString(field(record, "price"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: price %q", ErrInvalidSubmission, line, field(record, "price"))
		}
		out = append(out, Submission{
			DealerID:    field(record, "dealer_id"),
			Metal:       field(record, "metal_slug"),
			Price:       price,
			Unit:        field(record, "unit"),
			LocationZIP: field(record, "location_zip"),
			Notes:       field(record, "notes"),
		})
	}
	return out, nil
}
