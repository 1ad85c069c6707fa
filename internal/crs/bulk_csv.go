package crs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseBulkCSV reads a score sheet with a header row. Header names are
// matched loosely ("Register Number" == "register_number"); unknown
// columns are kept as the entry's data payload.
func ParseBulkCSV(r io.Reader) ([]BulkRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, invalid("empty CSV")
	}
	if err != nil {
		return nil, invalid("read CSV header: %v", err)
	}
	cols := make([]string, len(header))
	known := 0
	for i, h := range header {
		cols[i] = normalizeHeader(h)
		switch cols[i] {
		case "studentid", "registernumber", "subparameterid", "subparametername", "obtainedscore":
			known++
		}
	}
	if known == 0 {
		return nil, invalid("CSV header has none of the expected columns")
	}

	var rows []BulkRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid("read CSV line %d: %v", line, err)
		}
		if blank(rec) {
			continue
		}
		rows = append(rows, rowFromRecord(header, cols, rec))
	}
	return rows, nil
}

func rowFromRecord(header, cols, rec []string) BulkRow {
	var row BulkRow
	for i, v := range rec {
		if i >= len(cols) {
			break
		}
		v = strings.TrimSpace(v)
		switch cols[i] {
		case "studentid":
			row.StudentID = v
		case "registernumber":
			row.RegisterNumber = v
		case "subparameterid":
			row.SubParameterID = v
		case "subparametername":
			row.SubParameterName = v
		case "obtainedscore":
			row.ObtainedScore = RawScore(v)
		default:
			if v == "" || cols[i] == "" {
				continue
			}
			if row.Data == nil {
				row.Data = map[string]any{}
			}
			row.Data[strings.TrimSpace(header[i])] = v
		}
	}
	return row
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Summary is a one-line description of a bulk result for logs and CLIs.
func (r BulkResult) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.SuccessCount, r.FailedCount)
}
