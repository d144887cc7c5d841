// Package extractor turns raw markup into structured records according to a
// declarative schema. Extraction is a pure function of its input: no network,
// no storage, deterministic output.
package extractor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/zonedesk/ingest/internal/pipeline"
)

// FieldKind selects the output shape for one schema field.
type FieldKind string

// Supported field kinds.
const (
	KindScalar FieldKind = "scalar"
	KindList   FieldKind = "list"
	KindTable  FieldKind = "table"
)

// FieldSpec maps one named output field to a selector. Scalars take the first
// match; lists take every match; tables treat each match as a row and pull
// key/value cells from it.
type FieldSpec struct {
	Name     string
	Selector string
	// Attr extracts an attribute instead of text when set (e.g. "href").
	Attr          string
	Kind          FieldKind
	KeySelector   string
	ValueSelector string
	// Required fields fail extraction when absent; optional fields emit
	// their zero shape so the caller can proceed with partial data.
	Required bool
}

// Schema is a named set of field specs.
type Schema struct {
	Name   string
	Fields []FieldSpec
}

// Extract applies schema to content. Missing optional fields yield empty
// values; a missing required field returns *pipeline.ExtractionError so the
// orchestrator can distinguish "partial data, proceed" from "unusable page".
func Extract(content []byte, schema Schema) (pipeline.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, &pipeline.ExtractionError{Field: "document", Reason: "unparseable markup: " + err.Error()}
	}

	record := make(pipeline.Record, len(schema.Fields))
	for _, field := range schema.Fields {
		value, found := extractField(doc, field)
		if !found && field.Required {
			return nil, &pipeline.ExtractionError{
				Field:  field.Name,
				Reason: "required selector " + field.Selector + " matched nothing",
			}
		}
		record[field.Name] = value
	}
	return record, nil
}

func extractField(doc *goquery.Document, field FieldSpec) (any, bool) {
	switch field.Kind {
	case KindList:
		return extractList(doc, field)
	case KindTable:
		return extractTable(doc, field)
	default:
		return extractScalar(doc, field)
	}
}

func extractScalar(doc *goquery.Document, field FieldSpec) (any, bool) {
	sel := doc.Find(field.Selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	text := selectionValue(sel, field.Attr)
	return text, text != ""
}

func extractList(doc *goquery.Document, field FieldSpec) (any, bool) {
	values := []string{}
	doc.Find(field.Selector).Each(func(_ int, sel *goquery.Selection) {
		if v := selectionValue(sel, field.Attr); v != "" {
			values = append(values, v)
		}
	})
	return values, len(values) > 0
}

func extractTable(doc *goquery.Document, field FieldSpec) (any, bool) {
	table := map[string]string{}
	doc.Find(field.Selector).Each(func(_ int, row *goquery.Selection) {
		key := normalize(row.Find(field.KeySelector).First().Text())
		value := normalize(row.Find(field.ValueSelector).First().Text())
		if key != "" {
			table[key] = value
		}
	})
	return table, len(table) > 0
}

func selectionValue(sel *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := sel.Attr(attr)
		return strings.TrimSpace(v)
	}
	return normalize(sel.Text())
}

// normalize collapses internal runs of whitespace left behind by markup.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
