package reconcile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	columnSourceValue = "source_value"
	columnTargetID    = "target_id"
	columnMatchedName = "matched_name"
	columnConfidence  = "confidence"
	columnStatus      = "status"
)

// NormalizeNewlines rewrites CRLF line breaks as LF. CSV readers drop the CR
// of a CRLF pair even inside quoted fields, so values are stored normalized.
func NormalizeNewlines(value string) string {
	return strings.ReplaceAll(value, "\r\n", "\n")
}

// ExportColumns returns the CSV header for spec.
func ExportColumns(spec EntitySpec) []string {
	columns := []string{columnSourceValue}
	columns = append(columns, spec.Properties()...)
	return append(columns, columnTargetID, columnMatchedName, columnConfidence, columnStatus)
}

// WriteCSV writes one record per row. Property columns are filled from the
// row's source values through the spec's property mappings.
func WriteCSV(w io.Writer, rows []PreviewRow, spec EntitySpec) error {
	writer := csv.NewWriter(w)
	properties := spec.Properties()
	if err := writer.Write(ExportColumns(spec)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, 0, len(properties)+5)
		record = append(record, row.SourceValue)
		for _, property := range properties {
			record = append(record, row.Values[spec.PropertyMappings[property]])
		}
		targetID := ""
		if row.TargetID != nil {
			targetID = row.TargetID.String()
		}
		confidence := ""
		if row.Confidence != nil {
			confidence = strconv.FormatFloat(*row.Confidence, 'f', -1, 64)
		}
		record = append(record, targetID, row.MatchedName, confidence, string(spec.Thresholds.ClassifyRow(row)))
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %q: %w", row.SourceValue, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportRecord is one parsed row of an export.
type ExportRecord struct {
	SourceValue string
	Properties  map[string]string
	TargetID    *Identifier
	MatchedName string
	Confidence  *float64
	Status      Status
}

// ParseExport reads a file produced by WriteCSV.
func ParseExport(r io.Reader) ([]ExportRecord, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("export is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, required := range []string{columnSourceValue, columnTargetID, columnMatchedName, columnConfidence, columnStatus} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("export header missing %q column", required)
		}
	}
	fixed := map[string]bool{columnSourceValue: true, columnTargetID: true, columnMatchedName: true, columnConfidence: true, columnStatus: true}

	var records []ExportRecord
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		record := ExportRecord{
			SourceValue: fields[index[columnSourceValue]],
			MatchedName: fields[index[columnMatchedName]],
			Properties:  map[string]string{},
		}
		for name, i := range index {
			if !fixed[name] {
				record.Properties[name] = fields[i]
			}
		}
		if value := fields[index[columnTargetID]]; value != "" {
			id := Identifier(value)
			record.TargetID = &id
		}
		if value := strings.TrimSpace(fields[index[columnConfidence]]); value != "" {
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("record %d: confidence %q: %w", line, value, err)
			}
			record.Confidence = &parsed
		}
		status, err := ParseStatus(fields[index[columnStatus]])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		record.Status = status
		records = append(records, record)
	}
	return records, nil
}
