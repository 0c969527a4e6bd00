package tenantctx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// mergeSettings returns base with override's keys laid over it. Keys the
// override does not name keep their base value. Neither input is modified.
func mergeSettings(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return map[string]any{}
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// mergeFeatures applies one level of feature overrides. An override's enabled
// flag replaces the outer value; its settings are merged per key.
func mergeFeatures(base map[string]FeatureConfig, overrides map[string]FeatureOverride) map[string]FeatureConfig {
	merged := make(map[string]FeatureConfig, len(base)+len(overrides))
	for code, fc := range base {
		merged[code] = fc
	}
	for code, ov := range overrides {
		fc := merged[code]
		if ov.Enabled != nil {
			fc.Enabled = *ov.Enabled
		}
		fc.Settings = mergeSettings(fc.Settings, ov.Settings)
		merged[code] = fc
	}
	return merged
}

func featureEnabled(features map[string]FeatureConfig, code string) bool {
	fc, ok := features[code]
	return ok && fc.Enabled
}

func mergeStrings(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// mergeRolePermissions replaces the permission list of every role the
// override names.
func mergeRolePermissions(base, override map[string][]string) map[string][]string {
	merged := make(map[string][]string, len(base)+len(override))
	for role, perms := range base {
		merged[role] = perms
	}
	for role, perms := range override {
		merged[role] = perms
	}
	return merged
}

var (
	knownKeysMu sync.Mutex
	knownKeys   = map[reflect.Type]map[string]bool{}
)

// jsonKeys returns the JSON member names of struct type t, each mapped to
// whether the field can hold null.
func jsonKeys(t reflect.Type) map[string]bool {
	knownKeysMu.Lock()
	defer knownKeysMu.Unlock()
	if keys, ok := knownKeys[t]; ok {
		return keys
	}
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		switch t.Field(i).Type.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
			keys[name] = true
		default:
			keys[name] = false
		}
	}
	knownKeys[t] = keys
	return keys
}

// applyPatch lays patch over base by JSON key and decodes the result back
// into T. Keys that T does not declare, keys listed in frozen, and null for
// a field that cannot hold null are rejected.
func applyPatch[T any](base T, patch Patch, frozen ...string) (T, error) {
	if len(patch) == 0 {
		return base, nil
	}
	known := jsonKeys(reflect.TypeOf(base))
	var problems error
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		nullable, ok := known[k]
		if !ok {
			problems = multierror.Append(problems, fmt.Errorf("unknown key %q", k))
			continue
		}
		if patch[k] == nil && !nullable {
			problems = multierror.Append(problems, fmt.Errorf("key %q cannot be null", k))
			continue
		}
		for _, f := range frozen {
			if k == f {
				problems = multierror.Append(problems, fmt.Errorf("key %q cannot be overridden", k))
			}
		}
	}
	if problems != nil {
		return base, problems
	}

	raw, err := json.Marshal(base)
	if err != nil {
		return base, err
	}
	var current map[string]any
	if err := json.Unmarshal(raw, &current); err != nil {
		return base, err
	}
	raw, err = json.Marshal(mergeSettings(current, patch))
	if err != nil {
		return base, err
	}
	var out T
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&out); err != nil {
		return base, err
	}
	return out, nil
}

// mergeKeyed patches the elements of base by key and appends additions.
// Patches naming a missing key and additions duplicating an existing key are
// errors. The identity key itself cannot be patched.
func mergeKeyed[T any](base []T, key func(T) string, keyName string, patches map[string]Patch, additions []T) ([]T, error) {
	var problems error
	merged := make([]T, 0, len(base)+len(additions))
	seen := make(map[string]bool, len(base)+len(additions))
	for _, item := range base {
		k := key(item)
		seen[k] = true
		if p, ok := patches[k]; ok {
			patched, err := applyPatch(item, p, keyName)
			if err != nil {
				problems = multierror.Append(problems, fmt.Errorf("%s: %w", k, err))
			}
			item = patched
		}
		merged = append(merged, item)
	}

	missing := make([]string, 0)
	for k := range patches {
		if !seen[k] {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	for _, k := range missing {
		problems = multierror.Append(problems, fmt.Errorf("%s: no such %s", k, keyName))
	}

	for _, item := range additions {
		k := key(item)
		if k == "" {
			problems = multierror.Append(problems, fmt.Errorf("added item has no %s", keyName))
			continue
		}
		if seen[k] {
			problems = multierror.Append(problems, fmt.Errorf("%s: duplicate %s", k, keyName))
			continue
		}
		seen[k] = true
		merged = append(merged, item)
	}
	return merged, problems
}

// mergeSchema applies one level of overrides to an entity schema. When the
// entity does not exist at the outer level the patch must define it.
func mergeSchema(entity string, base UISchema, exists bool, ov SchemaOverride) (UISchema, error) {
	if !exists {
		base = UISchema{EntityName: entity}
	}
	merged, err := applyPatch(base, ov.Patch, "fields", "entityName")
	if err != nil {
		return base, err
	}
	fields, err := mergeKeyed(merged.Fields, func(f FieldDefinition) string { return f.Name }, "name", ov.Fields, ov.AddFields)
	if err != nil {
		return base, err
	}
	merged.Fields = fields
	if err := validateSchema(entity, merged); err != nil {
		return base, err
	}
	return merged, nil
}

func mergeForm(entity string, base FormLayout, exists bool, ov FormOverride, schema UISchema) (FormLayout, error) {
	if !exists {
		base = FormLayout{EntityName: entity}
	}
	merged, err := applyPatch(base, ov.Patch, "sections", "entityName")
	if err != nil {
		return base, err
	}
	sections, err := mergeKeyed(merged.Sections, func(s FormSection) string { return s.ID }, "id", ov.Sections, ov.AddSections)
	if err != nil {
		return base, err
	}
	merged.Sections = sections
	if err := validateForm(entity, merged, schema); err != nil {
		return base, err
	}
	return merged, nil
}

func mergeList(entity string, base ListLayout, exists bool, ov ListOverride, schema UISchema) (ListLayout, error) {
	if !exists {
		base = ListLayout{EntityName: entity}
	}
	merged, err := applyPatch(base, ov.Patch, "columns", "actions", "entityName")
	if err != nil {
		return base, err
	}
	columns, err := mergeKeyed(merged.Columns, func(c ListColumn) string { return c.Field }, "field", ov.Columns, ov.AddColumns)
	if err != nil {
		return base, err
	}
	merged.Columns = columns

	actions, err := mergeActions(merged.Actions, ov.Actions, ov.AddActions)
	if err != nil {
		return base, err
	}
	merged.Actions = actions

	if err := validateList(entity, merged, schema); err != nil {
		return base, err
	}
	return merged, nil
}

// mergeActions patches actions by id across all three groups. An action id
// is unique within a layout, so a patch finds at most one target.
func mergeActions(base ListActions, patches map[string]Patch, additions *ListActions) (ListActions, error) {
	var add ListActions
	if additions != nil {
		add = *additions
	}
	groupPatches := func(group []ListAction) map[string]Patch {
		owned := make(map[string]Patch)
		for _, a := range group {
			if p, ok := patches[a.ID]; ok {
				owned[a.ID] = p
			}
		}
		return owned
	}
	rowPatches, bulkPatches, headerPatches := groupPatches(base.Row), groupPatches(base.Bulk), groupPatches(base.Header)

	var problems error
	ids := make([]string, 0, len(patches))
	for id := range patches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, inRow := rowPatches[id]
		_, inBulk := bulkPatches[id]
		_, inHeader := headerPatches[id]
		if !inRow && !inBulk && !inHeader {
			problems = multierror.Append(problems, fmt.Errorf("%s: no such action", id))
		}
	}

	key := func(a ListAction) string { return a.ID }
	var out ListActions
	var err error
	if out.Row, err = mergeKeyed(base.Row, key, "id", rowPatches, add.Row); err != nil {
		problems = multierror.Append(problems, err)
	}
	if out.Bulk, err = mergeKeyed(base.Bulk, key, "id", bulkPatches, add.Bulk); err != nil {
		problems = multierror.Append(problems, err)
	}
	if out.Header, err = mergeKeyed(base.Header, key, "id", headerPatches, add.Header); err != nil {
		problems = multierror.Append(problems, err)
	}
	if problems != nil {
		return base, problems
	}
	return out, nil
}
