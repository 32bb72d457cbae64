package format

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gustycube/certprobe/internal/types"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatPanel OutputFormat = "panel"
	FormatJSON  OutputFormat = "json"
	FormatJSONL OutputFormat = "jsonl"
	FormatCSV   OutputFormat = "csv"
)

// Formatter renders one probe result at a time.
type Formatter interface {
	Format(res types.Result) ([]byte, error)
}

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	Indent bool
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(indent bool) *JSONFormatter {
	return &JSONFormatter{Indent: indent}
}

// Format formats a result as a JSON document followed by a newline
func (f *JSONFormatter) Format(res types.Result) ([]byte, error) {
	var data []byte
	var err error
	if f.Indent {
		data, err = json.MarshalIndent(res, "", "  ")
	} else {
		data, err = json.Marshal(res)
	}
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// NewJSONLFormatter creates a JSON Lines formatter, one compact object per line
func NewJSONLFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

var csvHeader = []string{
	"input", "host", "port", "subject_cn", "issuer_org", "issuer_cn", "protocol",
	"not_before", "not_after", "remaining_days", "class", "error_kind", "error",
}

// CSVFormatter formats output as CSV, writing the header before the first row
type CSVFormatter struct {
	mu        sync.Mutex
	hasHeader bool
}

// NewCSVFormatter creates a new CSV formatter
func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

// Format formats a result as a CSV row
func (f *CSVFormatter) Format(res types.Result) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result strings.Builder
	w := csv.NewWriter(&result)

	if !f.hasHeader {
		if err := w.Write(csvHeader); err != nil {
			return nil, err
		}
		f.hasHeader = true
	}

	row := []string{res.Input, res.Host, strconv.Itoa(res.Port), "", "", "", "", "", "", "", "", res.ErrorKind, res.Error}
	if c := res.Cert; c != nil {
		row[3] = c.SubjectCommonName
		row[4] = c.IssuerOrganization
		row[5] = c.IssuerCommonName
		row[6] = c.ProtocolVersion
		row[7] = c.NotBefore.UTC().Format(time.RFC3339)
		row[8] = c.NotAfter.UTC().Format(time.RFC3339)
		row[9] = strconv.Itoa(res.RemainingDays)
		row[10] = res.Class.String()
	}
	if err := w.Write(row); err != nil {
		return nil, err
	}

	w.Flush()
	return []byte(result.String()), w.Error()
}

// GetFormatter returns a formatter for the specified format
func GetFormatter(format OutputFormat, options map[string]interface{}) (Formatter, error) {
	switch format {
	case FormatPanel:
		color := true
		if v, ok := options["color"].(bool); ok {
			color = v
		}
		return NewPanelFormatter(color), nil

	case FormatJSON:
		indent := true
		if v, ok := options["indent"].(bool); ok {
			indent = v
		}
		return NewJSONFormatter(indent), nil

	case FormatJSONL:
		return NewJSONLFormatter(), nil

	case FormatCSV:
		return NewCSVFormatter(), nil

	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// ParseFormat parses a format string
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "panel", "":
		return FormatPanel, nil
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}
