package extractor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zonedesk/ingest/internal/pipeline"
)

const profilePage = `
<html><body>
  <h1>  Dubai   Multi Commodities Centre </h1>
  <p class="description">A leading free zone for commodities trade.</p>
  <a class="website" href="https://www.dmcc.ae">Visit</a>
  <ul class="benefits">
    <li>100% foreign ownership</li>
    <li>0% corporate tax</li>
    <li></li>
  </ul>
</body></html>`

// TestExtractScalarFields verifies first-match scalar extraction with
// whitespace normalization and attribute extraction.
func TestExtractScalarFields(t *testing.T) {
	t.Parallel()

	schema := Schema{
		Name: "profile",
		Fields: []FieldSpec{
			{Name: "name", Selector: "h1", Kind: KindScalar, Required: true},
			{Name: "description", Selector: ".description", Kind: KindScalar},
			{Name: "website", Selector: "a.website", Attr: "href", Kind: KindScalar},
		},
	}

	record, err := Extract([]byte(profilePage), schema)
	require.NoError(t, err)
	require.Equal(t, "Dubai Multi Commodities Centre", record["name"])
	require.Equal(t, "A leading free zone for commodities trade.", record["description"])
	require.Equal(t, "https://www.dmcc.ae", record["website"])
}

// TestExtractListSkipsEmptyItems verifies list fields collect every
// non-empty match.
func TestExtractListSkipsEmptyItems(t *testing.T) {
	t.Parallel()

	schema := Schema{
		Name: "benefits",
		Fields: []FieldSpec{
			{Name: "benefits", Selector: ".benefits li", Kind: KindList},
		},
	}

	record, err := Extract([]byte(profilePage), schema)
	require.NoError(t, err)
	require.Equal(t, []string{"100% foreign ownership", "0% corporate tax"}, record["benefits"])
}

// TestExtractTable verifies table fields build a key/value map per row.
func TestExtractTable(t *testing.T) {
	t.Parallel()

	page := `
<table><tbody>
  <tr><td> License Fee </td><td>AED 20,000</td></tr>
  <tr><td>Visa Fee</td><td>AED 3,500</td></tr>
  <tr><td></td><td>orphan</td></tr>
</tbody></table>`

	schema := Schema{
		Name: "fees",
		Fields: []FieldSpec{
			{
				Name:          "fees",
				Selector:      "table tbody tr",
				Kind:          KindTable,
				KeySelector:   "td:nth-child(1)",
				ValueSelector: "td:nth-child(2)",
				Required:      true,
			},
		},
	}

	record, err := Extract([]byte(page), schema)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"License Fee": "AED 20,000",
		"Visa Fee":    "AED 3,500",
	}, record["fees"])
}

// TestExtractMissingRequiredField verifies a required field that matches
// nothing fails with a typed extraction error naming the field.
func TestExtractMissingRequiredField(t *testing.T) {
	t.Parallel()

	schema := Schema{
		Name: "profile",
		Fields: []FieldSpec{
			{Name: "name", Selector: "h1.missing", Kind: KindScalar, Required: true},
		},
	}

	_, err := Extract([]byte(profilePage), schema)
	require.Error(t, err)

	var ee *pipeline.ExtractionError
	require.True(t, errors.As(err, &ee))
	require.Equal(t, "name", ee.Field)
}

// TestExtractMissingOptionalFieldsYieldZeroShapes verifies optional fields
// that match nothing still appear in the record with their empty shape.
func TestExtractMissingOptionalFieldsYieldZeroShapes(t *testing.T) {
	t.Parallel()

	schema := Schema{
		Name: "partial",
		Fields: []FieldSpec{
			{Name: "missing_scalar", Selector: ".nope", Kind: KindScalar},
			{Name: "missing_list", Selector: ".nope li", Kind: KindList},
			{Name: "missing_table", Selector: ".nope tr", Kind: KindTable, KeySelector: "td", ValueSelector: "td"},
		},
	}

	record, err := Extract([]byte(profilePage), schema)
	require.NoError(t, err)
	require.Equal(t, "", record["missing_scalar"])
	require.Equal(t, []string{}, record["missing_list"])
	require.Equal(t, map[string]string{}, record["missing_table"])
}

// TestExtractIsDeterministic verifies repeated extraction of the same input
// produces identical records.
func TestExtractIsDeterministic(t *testing.T) {
	t.Parallel()

	schema := Schema{
		Name: "profile",
		Fields: []FieldSpec{
			{Name: "name", Selector: "h1", Kind: KindScalar, Required: true},
			{Name: "benefits", Selector: ".benefits li", Kind: KindList},
		},
	}

	first, err := Extract([]byte(profilePage), schema)
	require.NoError(t, err)
	second, err := Extract([]byte(profilePage), schema)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

// TestRegistryBuiltins verifies the built-in schemas resolve by name and
// unknown names return a descriptive error.
func TestRegistryBuiltins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, name := range []string{"freezone-profile", "freezone-list", "fee-table", "activity-list"} {
		s, err := r.Get(name)
		require.NoError(t, err)
		require.Equal(t, name, s.Name)
		require.NotEmpty(t, s.Fields)
	}

	_, err := r.Get("nonexistent")
	require.ErrorContains(t, err, `unknown schema "nonexistent"`)
}

// TestRegistryRegisterOverrides verifies Register replaces an existing
// schema under the same name.
func TestRegistryRegisterOverrides(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(Schema{Name: "freezone-profile", Fields: []FieldSpec{
		{Name: "only", Selector: "h1", Kind: KindScalar},
	}})

	s, err := r.Get("freezone-profile")
	require.NoError(t, err)
	require.Len(t, s.Fields, 1)
}

// TestBuiltinProfileSchemaEndToEnd runs the shipped profile schema against a
// representative page.
func TestBuiltinProfileSchemaEndToEnd(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	schema, err := r.Get("freezone-profile")
	require.NoError(t, err)

	record, err := Extract([]byte(profilePage), schema)
	require.NoError(t, err)
	require.Equal(t, "Dubai Multi Commodities Centre", record["name"])
	require.Equal(t, []string{"100% foreign ownership", "0% corporate tax"}, record["benefits"])
	require.Equal(t, []string{}, record["license_types"])
}
