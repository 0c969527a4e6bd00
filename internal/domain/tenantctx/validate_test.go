package tenantctx

import (
	"strings"
	"testing"
)

func intPtr(i int) *int             { return &i }
func floatPtr(f float64) *float64 { return &f }

func TestValidateField(t *testing.T) {
	tests := []struct {
		name  string
		field FieldDefinition
		msg   string
	}{
		{"plain text", FieldDefinition{Name: "a", Type: FieldText}, ""},
		{"missing type", FieldDefinition{Name: "a"}, "no type"},
		{"select with options", FieldDefinition{Name: "a", Type: FieldSelect, Options: []FieldOption{{Value: "x", Label: "X"}}}, ""},
		{"select with lookup", FieldDefinition{Name: "a", Type: FieldSelect, LookupEndpoint: "/x", LookupValueField: "id", LookupDisplayField: "name"}, ""},
		{"select with neither", FieldDefinition{Name: "a", Type: FieldSelect}, "needs options or lookupEndpoint"},
		{"options and lookup", FieldDefinition{
			Name: "a", Type: FieldSelect,
			Options:        []FieldOption{{Value: "x", Label: "X"}},
			LookupEndpoint: "/x", LookupValueField: "id", LookupDisplayField: "name",
		}, "both options and lookupEndpoint"},
		{"lookup without fields", FieldDefinition{Name: "a", Type: FieldSelect, LookupEndpoint: "/x"}, "needs lookupValueField"},
		{"length bounds inverted", FieldDefinition{Name: "a", Type: FieldText, Validation: &FieldValidation{MinLength: intPtr(5), MaxLength: intPtr(2)}}, "minLength exceeds maxLength"},
		{"numeric bounds inverted", FieldDefinition{Name: "a", Type: FieldNumber, Validation: &FieldValidation{Min: floatPtr(10), Max: floatPtr(1)}}, "min exceeds max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateField(tt.field)
			if tt.msg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("expected error containing %q, got %v", tt.msg, err)
			}
		})
	}
}

func TestValidateSchema(t *testing.T) {
	s := testPatientSchema()
	if err := validateSchema("patient", s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.PrimaryField = "ssn"
	s.DefaultSort = &SortSpec{Field: "fullName", Direction: "up"}
	s.Fields = append(s.Fields, FieldDefinition{Name: "fullName", Type: FieldText})
	err := validateSchema("patient", s)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, msg := range []string{"primaryField \"ssn\"", "direction \"up\"", "duplicate field fullName"} {
		if !strings.Contains(err.Error(), msg) {
			t.Errorf("expected %q in %v", msg, err)
		}
	}
}

func TestValidateList(t *testing.T) {
	schema := testPatientSchema()
	valid := ListLayout{
		EntityName:      "patient",
		Columns:         []ListColumn{{Field: "fullName"}},
		Actions:         ListActions{Row: []ListAction{{ID: "view"}}, Header: []ListAction{{ID: "create"}}},
		Filters:         []ListFilter{{Field: "gender", Type: "select"}},
		DefaultPageSize: 25,
		PageSizeOptions: []int{10, 25},
		SearchFields:    []string{"fullName"},
	}
	if err := validateList("patient", valid, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(l *ListLayout)
		msg    string
	}{
		{"unknown column", func(l *ListLayout) { l.Columns = append(l.Columns, ListColumn{Field: "ssn"}) }, "column references unknown field ssn"},
		{"unknown filter", func(l *ListLayout) { l.Filters = []ListFilter{{Field: "age"}} }, "filter references unknown field age"},
		{"unknown search field", func(l *ListLayout) { l.SearchFields = []string{"email"} }, "search references unknown field email"},
		{"duplicate action across groups", func(l *ListLayout) { l.Actions.Bulk = []ListAction{{ID: "view"}} }, "duplicate action view"},
		{"page size not offered", func(l *ListLayout) { l.DefaultPageSize = 50 }, "not in pageSizeOptions"},
		{"zero page size", func(l *ListLayout) { l.DefaultPageSize = 0 }, "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := valid
			l.Actions = ListActions{
				Row:    append([]ListAction(nil), valid.Actions.Row...),
				Header: append([]ListAction(nil), valid.Actions.Header...),
			}
			tt.mutate(&l)
			err := validateList("patient", l, schema)
			if err == nil || !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("expected error containing %q, got %v", tt.msg, err)
			}
		})
	}
}

func TestValidateNav(t *testing.T) {
	err := validateNav([]NavItem{
		{ID: "a", Children: []NavItem{{ID: "b"}}},
		{ID: "b"},
		{Label: "Nameless"},
	})
	if err == nil {
		t.Fatal("expected errors")
	}
	if !strings.Contains(err.Error(), "duplicate navigation id b") {
		t.Errorf("expected duplicate id error, got %v", err)
	}
	if !strings.Contains(err.Error(), `"Nameless" has no id`) {
		t.Errorf("expected missing id error, got %v", err)
	}
}
