package tenantctx

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed baseline/platform.yaml
var platformBaseline []byte

// Baseline is the platform-wide default configuration shipped with the build.
// It is loaded once at startup and never modified afterwards.
type Baseline struct {
	Version         string                   `json:"version"`
	Features        map[string]FeatureConfig `json:"features"`
	Settings        TenantSettings           `json:"settings"`
	Branding        Branding                 `json:"branding"`
	Terminology     map[string]string        `json:"terminology"`
	RolePermissions map[string][]string      `json:"rolePermissions"`
	Navigation      []NavItem                `json:"navigation"`
	Schemas         map[string]UISchema      `json:"schemas"`
	Forms           map[string]FormLayout    `json:"forms"`
	Lists           map[string]ListLayout    `json:"lists"`
}

// DefaultBaseline returns the baseline embedded in the binary.
func DefaultBaseline() (*Baseline, error) {
	return ParseBaseline(platformBaseline)
}

// LoadBaselineFile reads a baseline from a YAML or JSON file.
func LoadBaselineFile(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", path, err)
	}
	return ParseBaseline(data)
}

// ParseBaseline decodes a YAML (or JSON) baseline document and validates it.
// The YAML is normalised through JSON so the same field names and defaults
// apply as for override documents.
func ParseBaseline(data []byte) (*Baseline, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse baseline: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse baseline: empty document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalise baseline: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var b Baseline
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	if err := ValidateBaseline(&b); err != nil {
		return nil, fmt.Errorf("invalid baseline %s: %w", b.Version, err)
	}
	return &b, nil
}
