package elocal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/internal/normalize"
)

const (
	SkipMissingCallID = "missing call_id"
	SkipMissingDate   = "missing date"
	SkipMalformedRow  = "malformed row"
	SkipRowCap        = "row cap reached"
)

// maxExportRows bounds how many data rows one export may contribute.
const maxExportRows = 100000

var headerAliases = map[string][]string{
	"id":       {"Unique ID", "call_id", "id", "Call ID", "CallID", "call-id", "Call Id"},
	"date":     {"Time", "date", "Date", "Call Date", "CallDate", "call-date"},
	"duration": {"Duration", "duration", "Call Duration", "CallDuration", "call-duration", "Duration (seconds)"},
	"type":     {"Status", "call_type", "type", "Type", "Call Type", "CallType", "call-type"},
}

// ParseResult is the outcome of reading one export.
type ParseResult struct {
	Calls     []domain.Call
	Rows      int
	Skipped   map[string]int
	Truncated bool
}

func (r ParseResult) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

// ParseCalls reads a CSV export. Columns are matched case-insensitively against known header aliases.
func ParseCalls(r io.Reader) (ParseResult, error) {
	return parseCalls(r, maxExportRows)
}

func parseCalls(r io.Reader, maxRows int) (ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return ParseResult{}, domain.ErrEmptyExport
	}
	if err != nil {
		return ParseResult{}, fmt.Errorf("read export header: %w", err)
	}
	columns := mapColumns(header)

	res := ParseResult{Skipped: map[string]int{}}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if res.Rows >= maxRows {
			res.Truncated = true
			res.Skipped[SkipRowCap]++
			break
		}
		res.Rows++
		if err != nil {
			res.Skipped[SkipMalformedRow]++
			continue
		}
		row := normalize.CallRow{
			ID:       cell(record, columns, "id"),
			Date:     cell(record, columns, "date"),
			Duration: cell(record, columns, "duration"),
			Type:     cell(record, columns, "type"),
		}
		call, err := normalize.Call(row)
		switch {
		case errors.Is(err, domain.ErrMissingKey):
			res.Skipped[SkipMissingCallID]++
		case errors.Is(err, domain.ErrMissingDate):
			res.Skipped[SkipMissingDate]++
		case err != nil:
			res.Skipped[SkipMalformedRow]++
		default:
			res.Calls = append(res.Calls, call)
		}
	}
	return res, nil
}

func mapColumns(header []string) map[string]int {
	columns := map[string]int{}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		for field, aliases := range headerAliases {
			if _, taken := columns[field]; taken {
				continue
			}
			for _, alias := range aliases {
				if name == strings.ToLower(alias) {
					columns[field] = i
					break
				}
			}
		}
	}
	return columns
}

func cell(record []string, columns map[string]int, field string) string {
	idx, ok := columns[field]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
