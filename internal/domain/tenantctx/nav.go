package tenantctx

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// mergeNav applies one level of navigation overrides: hide removes a node
// and its subtree, patch edits a node in place, add inserts a node under a
// parent (or at the root).
func mergeNav(base []NavItem, ov *NavOverride) ([]NavItem, error) {
	if ov == nil {
		return base, nil
	}
	var problems error

	hidden := make(map[string]bool, len(ov.Hide))
	for _, id := range ov.Hide {
		hidden[id] = true
	}
	patched := make(map[string]bool, len(ov.Patch))
	// covered holds every id under a hidden node.
	covered := make(map[string]bool)

	var walk func(items []NavItem) []NavItem
	walk = func(items []NavItem) []NavItem {
		out := make([]NavItem, 0, len(items))
		for _, item := range items {
			if hidden[item.ID] {
				for id := range navIDs([]NavItem{item}) {
					covered[id] = true
				}
				continue
			}
			if p, ok := ov.Patch[item.ID]; ok {
				next, err := applyPatch(item, p, "id", "children")
				if err != nil {
					problems = multierror.Append(problems, fmt.Errorf("%s: %w", item.ID, err))
				}
				item = next
				patched[item.ID] = true
			}
			item.Children = walk(item.Children)
			out = append(out, item)
		}
		return out
	}
	merged := walk(base)

	for _, id := range sortedKeys(ov.Patch) {
		if !patched[id] && !hidden[id] && !covered[id] {
			problems = multierror.Append(problems, fmt.Errorf("%s: no such navigation item", id))
		}
	}

	ids := navIDs(merged)
	for _, add := range ov.Add {
		if add.Item.ID == "" {
			problems = multierror.Append(problems, fmt.Errorf("added navigation item has no id"))
			continue
		}
		if dup := firstDuplicateID(add.Item, ids); dup != "" {
			problems = multierror.Append(problems, fmt.Errorf("%s: duplicate navigation id %s", add.Item.ID, dup))
			continue
		}
		for id := range navIDs([]NavItem{add.Item}) {
			ids[id] = true
		}
		if add.ParentID == "" {
			merged = append(merged, add.Item)
			continue
		}
		var inserted bool
		merged, inserted = insertNav(merged, add.ParentID, add.Item)
		if !inserted {
			problems = multierror.Append(problems, fmt.Errorf("%s: parent %s not found", add.Item.ID, add.ParentID))
		}
	}

	if problems == nil {
		problems = validateNav(merged)
	}
	if problems != nil {
		return base, problems
	}
	return merged, nil
}

func insertNav(items []NavItem, parentID string, child NavItem) ([]NavItem, bool) {
	out := make([]NavItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ID == parentID {
			children := make([]NavItem, len(out[i].Children), len(out[i].Children)+1)
			copy(children, out[i].Children)
			out[i].Children = append(children, child)
			return out, true
		}
		if children, ok := insertNav(out[i].Children, parentID, child); ok {
			out[i].Children = children
			return out, true
		}
	}
	return items, false
}

// firstDuplicateID returns the first id in item's subtree that is already in
// ids or repeats within the subtree, or "" when every id is new.
func firstDuplicateID(item NavItem, ids map[string]bool) string {
	seen := make(map[string]bool)
	var walk func(NavItem) string
	walk = func(n NavItem) string {
		if ids[n.ID] || seen[n.ID] {
			return n.ID
		}
		seen[n.ID] = true
		for _, c := range n.Children {
			if dup := walk(c); dup != "" {
				return dup
			}
		}
		return ""
	}
	return walk(item)
}

func navIDs(items []NavItem) map[string]bool {
	ids := make(map[string]bool)
	var walk func([]NavItem)
	walk = func(items []NavItem) {
		for _, item := range items {
			ids[item.ID] = true
			walk(item.Children)
		}
	}
	walk(items)
	return ids
}

// passesGates reports whether an element gated by featureCode and
// requiredRoles is available to a caller holding roles.
func passesGates(featureCode string, requiredRoles []string, features map[string]FeatureConfig, roles map[string]bool) bool {
	if featureCode != "" && !featureEnabled(features, featureCode) {
		return false
	}
	if len(requiredRoles) == 0 {
		return true
	}
	for _, r := range requiredRoles {
		if roles[r] {
			return true
		}
	}
	return false
}

// pruneNav drops nodes whose own gates fail, recursing into the children of
// surviving nodes. Siblings are ordered by sortOrder, then id.
func pruneNav(items []NavItem, features map[string]FeatureConfig, roles map[string]bool) []NavItem {
	out := make([]NavItem, 0, len(items))
	for _, item := range items {
		if !passesGates(item.FeatureCode, item.RequiredRoles, features, roles) {
			continue
		}
		children := pruneNav(item.Children, features, roles)
		if !keepPrunedNode(item, children) {
			continue
		}
		item.Children = children
		if len(children) == 0 {
			item.Children = nil
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// keepPrunedNode decides whether a node that passed its own gates stays in
// the tree once its children have been pruned. A leaf stays. A parent whose
// children were all pruned stays only when it has a route of its own.
func keepPrunedNode(node NavItem, survivingChildren []NavItem) bool {
	if len(node.Children) == 0 || len(survivingChildren) > 0 {
		return true
	}
	return node.Route != ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
