package extractor

import "fmt"

// Registry holds named schemas so job targets can reference them by name.
type Registry struct {
	schemas map[string]Schema
}

// NewRegistry returns a Registry preloaded with the built-in schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]Schema)}
	for _, s := range builtinSchemas() {
		r.schemas[s.Name] = s
	}
	return r
}

// Register adds or replaces a schema under its name.
func (r *Registry) Register(s Schema) {
	r.schemas[s.Name] = s
}

// Get returns the schema registered under name.
func (r *Registry) Get(name string) (Schema, error) {
	s, ok := r.schemas[name]
	if !ok {
		return Schema{}, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

// builtinSchemas covers the page shapes the platform scrapes today: free-zone
// profile pages, listing pages, and fee tables.
func builtinSchemas() []Schema {
	return []Schema{
		{
			Name: "freezone-profile",
			Fields: []FieldSpec{
				{Name: "name", Selector: "h1", Kind: KindScalar, Required: true},
				{Name: "description", Selector: ".description, .about, article p", Kind: KindScalar},
				{Name: "website", Selector: "a.website", Attr: "href", Kind: KindScalar},
				{Name: "benefits", Selector: ".benefits li", Kind: KindList},
				{Name: "license_types", Selector: ".license-types li", Kind: KindList},
			},
		},
		{
			Name: "freezone-list",
			Fields: []FieldSpec{
				{Name: "names", Selector: ".zone-card h3, .zone-list li a", Kind: KindList, Required: true},
				{Name: "links", Selector: ".zone-card a, .zone-list li a", Attr: "href", Kind: KindList},
			},
		},
		{
			Name: "fee-table",
			Fields: []FieldSpec{
				{Name: "title", Selector: "h1, h2", Kind: KindScalar},
				{
					Name:          "fees",
					Selector:      "table tbody tr",
					Kind:          KindTable,
					KeySelector:   "td:nth-child(1), th",
					ValueSelector: "td:nth-child(2), td:last-child",
					Required:      true,
				},
			},
		},
		{
			Name: "activity-list",
			Fields: []FieldSpec{
				{Name: "activities", Selector: ".activity li, table.activities td:first-child", Kind: KindList, Required: true},
			},
		},
	}
}
