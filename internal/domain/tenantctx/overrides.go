package tenantctx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level names one rung of the precedence ladder: platform < tenant < company.
type Level string

const (
	LevelPlatform Level = "platform"
	LevelTenant   Level = "tenant"
	LevelCompany  Level = "company"
)

// Patch is a shallow set of JSON keys laid over an object of the outer level.
type Patch map[string]any

// Overrides is the per-tenant or per-company override document.
type Overrides struct {
	Features        map[string]FeatureOverride `json:"features,omitempty"`
	Settings        Patch                      `json:"settings,omitempty"`
	Branding        Patch                      `json:"branding,omitempty"`
	Terminology     map[string]string          `json:"terminology,omitempty"`
	RolePermissions map[string][]string        `json:"rolePermissions,omitempty"`
	Navigation      *NavOverride               `json:"navigation,omitempty"`
	Schemas         map[string]SchemaOverride  `json:"schemas,omitempty"`
	Forms           map[string]FormOverride    `json:"forms,omitempty"`
	Lists           map[string]ListOverride    `json:"lists,omitempty"`
}

type FeatureOverride struct {
	Enabled  *bool          `json:"enabled,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

type NavOverride struct {
	Hide  []string         `json:"hide,omitempty"`
	Patch map[string]Patch `json:"patch,omitempty"`
	Add   []NavAddition    `json:"add,omitempty"`
}

// NavAddition inserts Item under ParentID, or at the root when ParentID is empty.
type NavAddition struct {
	ParentID string  `json:"parentId,omitempty"`
	Item     NavItem `json:"item"`
}

type SchemaOverride struct {
	Patch     Patch             `json:"patch,omitempty"`
	Fields    map[string]Patch  `json:"fields,omitempty"`
	AddFields []FieldDefinition `json:"addFields,omitempty"`
}

type FormOverride struct {
	Patch       Patch            `json:"patch,omitempty"`
	Sections    map[string]Patch `json:"sections,omitempty"`
	AddSections []FormSection    `json:"addSections,omitempty"`
}

type ListOverride struct {
	Patch      Patch            `json:"patch,omitempty"`
	Columns    map[string]Patch `json:"columns,omitempty"`
	AddColumns []ListColumn     `json:"addColumns,omitempty"`
	Actions    map[string]Patch `json:"actions,omitempty"`
	AddActions *ListActions     `json:"addActions,omitempty"`
}

// OverrideRecord is a raw override row as stored. The document is decoded by
// the resolver so that a malformed row degrades instead of failing the store.
type OverrideRecord struct {
	ScopeID   uuid.UUID       `json:"scopeId"`
	Level     Level           `json:"level"`
	Document  json.RawMessage `json:"document"`
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
	UpdatedBy string          `json:"updatedBy,omitempty"`
}

// DecodeOverrides strictly decodes an override document. Unknown top-level
// keys are rejected so that typos surface as configuration errors.
func DecodeOverrides(doc []byte) (*Overrides, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return &Overrides{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	var o Overrides
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("decode override document: %w", err)
	}
	return &o, nil
}
