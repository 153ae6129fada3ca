package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/forest6511/grimoire/pkg/secret"
)

// OnePasswordParser parses 1Password CSV exports:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

// LastPassParser parses LastPass CSV exports:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

// csvLayout maps the export's columns onto secret pairs.
type csvLayout struct {
	source   Source
	name     string
	url      string
	required []string
	// pairs lists column -> pair key, in output order.
	pairs [][2]string
	// decode is applied to every value.
	decode func(string) string
}

var onePasswordLayout = csvLayout{
	source:   Source1Password,
	name:     "title",
	url:      "website",
	required: []string{"title"},
	pairs: [][2]string{
		{"username", "username"},
		{"password", "password"},
		{"otpauth", "totp"},
		{"website", "url"},
		{"notes", "notes"},
	},
}

var lastPassLayout = csvLayout{
	source:   SourceLastPass,
	name:     "name",
	url:      "url",
	required: []string{"name", "url"},
	pairs: [][2]string{
		{"username", "username"},
		{"password", "password"},
		{"totp", "totp"},
		{"url", "url"},
		{"extra", "notes"},
	},
	decode: DecodeHTMLEntities,
}

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source { return Source1Password }

// Parse parses 1Password CSV data.
func (p *OnePasswordParser) Parse(data []byte) (*Result, error) {
	return parseCSV(data, onePasswordLayout)
}

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source { return SourceLastPass }

// Parse parses LastPass CSV data. LastPass writes "http://sn" as the URL of
// secure notes; it is dropped.
func (p *LastPassParser) Parse(data []byte) (*Result, error) {
	return parseCSV(data, lastPassLayout)
}

func parseCSV(data []byte, layout csvLayout) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("importer: failed to read %s CSV header: %w", layout.source, err)
	}
	cols := make(map[string]int, len(header))
	for i, col := range header {
		cols[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range layout.required {
		if _, ok := cols[col]; !ok {
			return nil, fmt.Errorf("importer: %s CSV is missing required column: %s", layout.source, col)
		}
	}

	result := &Result{}
	counter := 0
	for rowNum := 1; ; rowNum++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("importer: row %d: %w", rowNum, err)
		}
		if len(row) != len(header) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: column count mismatch (expected %d, got %d)", rowNum, len(header), len(row)))
			continue
		}

		get := func(col string) string {
			i, ok := cols[col]
			if !ok {
				return ""
			}
			v := row[i]
			if layout.decode != nil {
				v = layout.decode(v)
			}
			return v
		}

		url := get(layout.url)
		if layout.source == SourceLastPass && url == "http://sn" {
			url = ""
		}

		var b builder
		for _, p := range layout.pairs {
			v := get(p[0])
			if p[0] == layout.url {
				v = url
			}
			b.add(p[1], v)
		}

		name := get(layout.name)
		if len(b.pairs) == 0 {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: name, Reason: "no useful data"})
			continue
		}
		result.Secrets = append(result.Secrets, secret.New(secretName(name, url, &counter), b.pairs))
	}
	return result, nil
}
