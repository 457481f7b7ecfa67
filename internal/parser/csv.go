package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// csvBatchSize is the number of data rows rendered under one heading.
const csvBatchSize = 20

// CSVConverter handles CSV files. The first record is the header row; data
// rows are grouped into tables of csvBatchSize, each under its own heading
// so one batch becomes one section.
type CSVConverter struct{}

func (c *CSVConverter) Convert(content []byte) ([]byte, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	headers := records[0]
	dataRows := records[1:]
	if len(dataRows) == 0 {
		return []byte(csvTable(headers, nil) + "\n"), nil
	}

	var blocks []string
	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))
		// Row numbers are 1-indexed and count the header.
		blocks = append(blocks,
			fmt.Sprintf("## Rows %d-%d", i+2, end+1),
			csvTable(headers, dataRows[i:end]),
		)
	}
	return []byte(joinBlocks(blocks) + "\n"), nil
}

func csvTable(headers []string, rows [][]string) string {
	width := len(headers)
	for _, r := range rows {
		width = max(width, len(r))
	}
	var sb strings.Builder
	writeRow := func(cells []string) {
		sb.WriteString("|")
		for i := range width {
			cell := ""
			if i < len(cells) {
				cell = csvCell(cells[i])
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}
	writeRow(headers)
	sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range rows {
		writeRow(r)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func csvCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(inlineSpecial.Replace(s), "|", `\|`)
}
