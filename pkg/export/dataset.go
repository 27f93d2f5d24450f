package export

import "fmt"

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Summary []SummaryLine
	Headers []string
	Rows    []map[string]string
}

// SummaryLine is a labelled figure rendered above the table (summary cards).
type SummaryLine struct {
	Label string
	Value string
}

func (d Dataset) validate(format string) error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("%s requires at least one header", format)
	}
	return nil
}

func (d Dataset) record(row map[string]string) []string {
	record := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		record[i] = row[header]
	}
	return record
}
