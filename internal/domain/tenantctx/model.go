package tenantctx

import (
	"encoding/json"

	"github.com/google/uuid"
)

// TenantContext is the fully merged, role-filtered projection returned to the
// front end. It is built per request and never persisted.
type TenantContext struct {
	TenantID    uuid.UUID                `json:"tenantId"`
	TenantName  string                   `json:"tenantName"`
	CompanyID   uuid.UUID                `json:"companyId"`
	CompanyName string                   `json:"companyName"`
	BranchID    uuid.UUID                `json:"branchId"`
	BranchName  string                   `json:"branchName"`
	UserID      string                   `json:"userId"`
	UserName    string                   `json:"userName"`
	Roles       []string                 `json:"roles"`
	Permissions []string                 `json:"permissions"`
	Version     string                   `json:"configVersion"`
	Branding    Branding                 `json:"branding"`
	Features    map[string]FeatureConfig `json:"features"`
	Navigation  []NavItem                `json:"navigation"`
	Terminology map[string]string        `json:"terminology"`
	Schemas     map[string]UISchema      `json:"schemas"`
	Forms       map[string]FormLayout    `json:"forms"`
	Lists       map[string]ListLayout    `json:"lists"`
	Settings    TenantSettings           `json:"settings"`
}

// FeatureEnabled reports whether code is enabled. Absent features are disabled.
func (tc *TenantContext) FeatureEnabled(code string) bool {
	return featureEnabled(tc.Features, code)
}

type FeatureConfig struct {
	Enabled  bool           `json:"enabled"`
	Settings map[string]any `json:"settings"`
}

type Branding struct {
	DisplayName    string `json:"displayName"`
	LogoURL        string `json:"logoUrl"`
	FaviconURL     string `json:"faviconUrl"`
	PrimaryColor   string `json:"primaryColor"`
	SecondaryColor string `json:"secondaryColor"`
	Theme          string `json:"theme"`
}

type TenantSettings struct {
	Currency   string `json:"currency"`
	Timezone   string `json:"timezone"`
	DateFormat string `json:"dateFormat"`
	TimeFormat string `json:"timeFormat"`
	Language   string `json:"language"`
}

// NavItem is a node of the navigation tree.
type NavItem struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	Icon          string    `json:"icon,omitempty"`
	Route         string    `json:"route,omitempty"`
	FeatureCode   string    `json:"featureCode,omitempty"`
	RequiredRoles []string  `json:"requiredRoles,omitempty"`
	Children      []NavItem `json:"children,omitempty"`
	Badge         *NavBadge `json:"badge,omitempty"`
	SortOrder     int       `json:"sortOrder"`
}

type NavBadge struct {
	Type     string `json:"type"`
	CountKey string `json:"countKey"`
}

type SortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// UISchema describes one entity's fields for generic form and list rendering.
type UISchema struct {
	EntityName        string            `json:"entityName"`
	DisplayName       string            `json:"displayName"`
	DisplayNamePlural string            `json:"displayNamePlural"`
	PrimaryField      string            `json:"primaryField"`
	Fields            []FieldDefinition `json:"fields"`
	DefaultSort       *SortSpec         `json:"defaultSort,omitempty"`
}

// Field returns the field named name.
func (s UISchema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextArea FieldType = "textarea"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
	FieldBoolean  FieldType = "boolean"
	FieldSelect   FieldType = "select"
	FieldCurrency FieldType = "currency"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldFile     FieldType = "file"
)

type FieldDefinition struct {
	Name               string           `json:"name"`
	Type               FieldType        `json:"type"`
	Label              string           `json:"label"`
	Placeholder        string           `json:"placeholder,omitempty"`
	HelpText           string           `json:"helpText,omitempty"`
	DefaultValue       any              `json:"defaultValue,omitempty"`
	Validation         *FieldValidation `json:"validation,omitempty"`
	Options            []FieldOption    `json:"options,omitempty"`
	LookupEndpoint     string           `json:"lookupEndpoint,omitempty"`
	LookupDisplayField string           `json:"lookupDisplayField,omitempty"`
	LookupValueField   string           `json:"lookupValueField,omitempty"`
	Visible            bool             `json:"visible"`
	Disabled           bool             `json:"disabled"`
	ReadOnly           bool             `json:"readOnly"`
	Width              string           `json:"width,omitempty"`
	Sortable           bool             `json:"sortable"`
	Filterable         bool             `json:"filterable"`
	Searchable         bool             `json:"searchable"`
	Currency           string           `json:"currency,omitempty"`
	Decimals           *int             `json:"decimals,omitempty"`
	Accept             string           `json:"accept,omitempty"`
	MaxSize            int64            `json:"maxSize,omitempty"`
	Multiple           bool             `json:"multiple"`
	FeatureCode        string           `json:"featureCode,omitempty"`
	RequiredRoles      []string         `json:"requiredRoles,omitempty"`
}

// UnmarshalJSON defaults Visible to true when the document omits it.
func (f *FieldDefinition) UnmarshalJSON(b []byte) error {
	type plain FieldDefinition
	p := plain{Visible: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*f = FieldDefinition(p)
	return nil
}

type FieldValidation struct {
	Required       bool     `json:"required"`
	MinLength      *int     `json:"minLength,omitempty"`
	MaxLength      *int     `json:"maxLength,omitempty"`
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	Pattern        string   `json:"pattern,omitempty"`
	PatternMessage string   `json:"patternMessage,omitempty"`
	Custom         string   `json:"custom,omitempty"`
}

type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type FormLayout struct {
	EntityName           string        `json:"entityName"`
	Sections             []FormSection `json:"sections"`
	SubmitLabel          string        `json:"submitLabel"`
	CancelLabel          string        `json:"cancelLabel"`
	ShowDelete           bool          `json:"showDelete"`
	DeleteConfirmMessage string        `json:"deleteConfirmMessage,omitempty"`
}

type FormSection struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Collapsible      bool     `json:"collapsible"`
	DefaultCollapsed bool     `json:"defaultCollapsed"`
	Visible          bool     `json:"visible"`
	Columns          int      `json:"columns"`
	Fields           []string `json:"fields"`
}

// UnmarshalJSON defaults Visible to true and Columns to 1.
func (s *FormSection) UnmarshalJSON(b []byte) error {
	type plain FormSection
	p := plain{Visible: true, Columns: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = FormSection(p)
	return nil
}

type ListLayout struct {
	EntityName      string       `json:"entityName"`
	Columns         []ListColumn `json:"columns"`
	Actions         ListActions  `json:"actions"`
	Filters         []ListFilter `json:"filters"`
	DefaultPageSize int          `json:"defaultPageSize"`
	PageSizeOptions []int        `json:"pageSizeOptions"`
	ShowSearch      bool         `json:"showSearch"`
	SearchFields    []string     `json:"searchFields"`
}

type ListColumn struct {
	Field    string `json:"field"`
	Width    string `json:"width,omitempty"`
	Align    string `json:"align,omitempty"`
	Format   string `json:"format,omitempty"`
	Sortable bool   `json:"sortable"`
	Hidden   bool   `json:"hidden"`
}

type ListActions struct {
	Row    []ListAction `json:"row"`
	Bulk   []ListAction `json:"bulk"`
	Header []ListAction `json:"header"`
}

type ListAction struct {
	ID                string   `json:"id"`
	Label             string   `json:"label"`
	Icon              string   `json:"icon,omitempty"`
	Type              string   `json:"type"`
	RequiresSelection bool     `json:"requiresSelection"`
	ConfirmMessage    string   `json:"confirmMessage,omitempty"`
	FeatureCode       string   `json:"featureCode,omitempty"`
	RequiredRoles     []string `json:"requiredRoles,omitempty"`
	Visible           bool     `json:"visible"`
}

// UnmarshalJSON defaults Visible to true when the document omits it.
func (a *ListAction) UnmarshalJSON(b []byte) error {
	type plain ListAction
	p := plain{Visible: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = ListAction(p)
	return nil
}

type ListFilter struct {
	Field   string        `json:"field"`
	Type    string        `json:"type"`
	Options []FieldOption `json:"options,omitempty"`
}

// Request identifies the caller and scope a context is resolved for.
type Request struct {
	TenantID  uuid.UUID
	CompanyID uuid.UUID
	BranchID  uuid.UUID
	UserID    string
	UserName  string
	Roles     []string
}

// Hierarchy is the result of looking up a tenant/company/branch triple.
// Valid is false when any level is missing, inactive, or belongs to a
// different parent.
type Hierarchy struct {
	Valid       bool
	Missing     string
	TenantName  string
	CompanyName string
	BranchName  string
}
