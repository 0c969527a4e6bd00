package tenantctx

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

func validateSchema(entity string, s UISchema) error {
	var problems error
	if s.EntityName != entity {
		problems = multierror.Append(problems, fmt.Errorf("schema %s: entityName is %q", entity, s.EntityName))
	}
	if len(s.Fields) == 0 {
		problems = multierror.Append(problems, fmt.Errorf("schema %s: no fields", entity))
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			problems = multierror.Append(problems, fmt.Errorf("schema %s: field without name", entity))
			continue
		}
		if seen[f.Name] {
			problems = multierror.Append(problems, fmt.Errorf("schema %s: duplicate field %s", entity, f.Name))
		}
		seen[f.Name] = true
		if err := validateField(f); err != nil {
			problems = multierror.Append(problems, fmt.Errorf("schema %s: %w", entity, err))
		}
	}
	if s.PrimaryField == "" || !seen[s.PrimaryField] {
		problems = multierror.Append(problems, fmt.Errorf("schema %s: primaryField %q is not a field", entity, s.PrimaryField))
	}
	if s.DefaultSort != nil {
		if !seen[s.DefaultSort.Field] {
			problems = multierror.Append(problems, fmt.Errorf("schema %s: defaultSort field %q is not a field", entity, s.DefaultSort.Field))
		}
		if d := s.DefaultSort.Direction; d != "asc" && d != "desc" {
			problems = multierror.Append(problems, fmt.Errorf("schema %s: defaultSort direction %q", entity, d))
		}
	}
	return problems
}

// validateField checks a single field. A field may carry static options or a
// lookup endpoint, never both; a select field needs exactly one of them.
func validateField(f FieldDefinition) error {
	var problems error
	if f.Type == "" {
		problems = multierror.Append(problems, fmt.Errorf("field %s: no type", f.Name))
	}
	hasOptions := len(f.Options) > 0
	hasLookup := f.LookupEndpoint != ""
	switch {
	case hasOptions && hasLookup:
		problems = multierror.Append(problems, fmt.Errorf("field %s: both options and lookupEndpoint are set", f.Name))
	case f.Type == FieldSelect && !hasOptions && !hasLookup:
		problems = multierror.Append(problems, fmt.Errorf("field %s: select field needs options or lookupEndpoint", f.Name))
	}
	if hasLookup && (f.LookupValueField == "" || f.LookupDisplayField == "") {
		problems = multierror.Append(problems, fmt.Errorf("field %s: lookupEndpoint needs lookupValueField and lookupDisplayField", f.Name))
	}
	if v := f.Validation; v != nil {
		if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
			problems = multierror.Append(problems, fmt.Errorf("field %s: minLength exceeds maxLength", f.Name))
		}
		if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
			problems = multierror.Append(problems, fmt.Errorf("field %s: min exceeds max", f.Name))
		}
	}
	return problems
}

// validateForm checks that every field a section references exists in the
// entity's schema.
func validateForm(entity string, f FormLayout, schema UISchema) error {
	var problems error
	if f.EntityName != entity {
		problems = multierror.Append(problems, fmt.Errorf("form %s: entityName is %q", entity, f.EntityName))
	}
	sections := make(map[string]bool, len(f.Sections))
	for _, s := range f.Sections {
		if s.ID == "" {
			problems = multierror.Append(problems, fmt.Errorf("form %s: section without id", entity))
		} else if sections[s.ID] {
			problems = multierror.Append(problems, fmt.Errorf("form %s: duplicate section %s", entity, s.ID))
		}
		sections[s.ID] = true
		if s.Columns < 1 {
			problems = multierror.Append(problems, fmt.Errorf("form %s: section %s has %d columns", entity, s.ID, s.Columns))
		}
		for _, name := range s.Fields {
			if _, ok := schema.Field(name); !ok {
				problems = multierror.Append(problems, fmt.Errorf("form %s: section %s references unknown field %s", entity, s.ID, name))
			}
		}
	}
	return problems
}

func validateList(entity string, l ListLayout, schema UISchema) error {
	var problems error
	if l.EntityName != entity {
		problems = multierror.Append(problems, fmt.Errorf("list %s: entityName is %q", entity, l.EntityName))
	}
	for _, c := range l.Columns {
		if _, ok := schema.Field(c.Field); !ok {
			problems = multierror.Append(problems, fmt.Errorf("list %s: column references unknown field %s", entity, c.Field))
		}
	}
	for _, f := range l.Filters {
		if _, ok := schema.Field(f.Field); !ok {
			problems = multierror.Append(problems, fmt.Errorf("list %s: filter references unknown field %s", entity, f.Field))
		}
	}
	for _, name := range l.SearchFields {
		if _, ok := schema.Field(name); !ok {
			problems = multierror.Append(problems, fmt.Errorf("list %s: search references unknown field %s", entity, name))
		}
	}
	actions := make(map[string]bool)
	for _, group := range [][]ListAction{l.Actions.Row, l.Actions.Bulk, l.Actions.Header} {
		for _, a := range group {
			if a.ID == "" {
				problems = multierror.Append(problems, fmt.Errorf("list %s: action without id", entity))
				continue
			}
			if actions[a.ID] {
				problems = multierror.Append(problems, fmt.Errorf("list %s: duplicate action %s", entity, a.ID))
			}
			actions[a.ID] = true
		}
	}
	if l.DefaultPageSize <= 0 {
		problems = multierror.Append(problems, fmt.Errorf("list %s: defaultPageSize must be positive", entity))
	} else if len(l.PageSizeOptions) > 0 && !containsInt(l.PageSizeOptions, l.DefaultPageSize) {
		problems = multierror.Append(problems, fmt.Errorf("list %s: defaultPageSize %d not in pageSizeOptions", entity, l.DefaultPageSize))
	}
	return problems
}

func validateNav(items []NavItem) error {
	var problems error
	seen := make(map[string]bool)
	var walk func([]NavItem)
	walk = func(items []NavItem) {
		for _, item := range items {
			if item.ID == "" {
				problems = multierror.Append(problems, fmt.Errorf("navigation item %q has no id", item.Label))
			} else if seen[item.ID] {
				problems = multierror.Append(problems, fmt.Errorf("duplicate navigation id %s", item.ID))
			}
			seen[item.ID] = true
			walk(item.Children)
		}
	}
	walk(items)
	return problems
}

// ValidateBaseline checks the whole platform baseline. Every problem is
// reported; any problem makes the baseline unusable.
func ValidateBaseline(b *Baseline) error {
	var problems error
	if b.Version == "" {
		problems = multierror.Append(problems, fmt.Errorf("baseline has no version"))
	}
	if err := validateNav(b.Navigation); err != nil {
		problems = multierror.Append(problems, err)
	}
	for _, entity := range sortedKeys(b.Schemas) {
		if err := validateSchema(entity, b.Schemas[entity]); err != nil {
			problems = multierror.Append(problems, err)
		}
	}
	for _, entity := range sortedKeys(b.Forms) {
		schema, ok := b.Schemas[entity]
		if !ok {
			problems = multierror.Append(problems, fmt.Errorf("form %s has no schema", entity))
			continue
		}
		if err := validateForm(entity, b.Forms[entity], schema); err != nil {
			problems = multierror.Append(problems, err)
		}
	}
	for _, entity := range sortedKeys(b.Lists) {
		schema, ok := b.Schemas[entity]
		if !ok {
			problems = multierror.Append(problems, fmt.Errorf("list %s has no schema", entity))
			continue
		}
		if err := validateList(entity, b.Lists[entity], schema); err != nil {
			problems = multierror.Append(problems, err)
		}
	}
	return problems
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
