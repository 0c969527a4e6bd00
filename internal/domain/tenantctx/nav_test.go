package tenantctx

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func navIDList(items []NavItem) []string {
	var ids []string
	var walk func([]NavItem, string)
	walk = func(items []NavItem, prefix string) {
		for _, item := range items {
			ids = append(ids, prefix+item.ID)
			walk(item.Children, prefix+item.ID+"/")
		}
	}
	walk(items, "")
	return ids
}

func testNav() []NavItem {
	return []NavItem{
		{ID: "settings", Label: "Settings", Route: "/settings", RequiredRoles: []string{"admin"}, SortOrder: 90},
		{ID: "dashboard", Label: "Dashboard", Route: "/", SortOrder: 0},
		{ID: "clinical", Label: "Clinical", SortOrder: 30, Children: []NavItem{
			{ID: "lab-orders", Label: "Lab Orders", Route: "/lab", FeatureCode: "LabModule", RequiredRoles: []string{"practitioner"}, SortOrder: 20},
			{ID: "audiology", Label: "Audiology", Route: "/audiology", FeatureCode: "AudiologyModule", SortOrder: 10},
		}},
		{ID: "finance", Label: "Finance", Route: "/finance", SortOrder: 50, Children: []NavItem{
			{ID: "invoices", Label: "Invoices", Route: "/finance/invoices", FeatureCode: "SalesModule", SortOrder: 10},
		}},
		{ID: "appointments", Label: "Appointments", Route: "/appointments", SortOrder: 0},
	}
}

func roleSet(roles ...string) map[string]bool {
	m := make(map[string]bool, len(roles))
	for _, r := range roles {
		m[r] = true
	}
	return m
}

func TestPruneNav(t *testing.T) {
	features := map[string]FeatureConfig{
		"LabModule":       {Enabled: true},
		"AudiologyModule": {Enabled: true},
		"SalesModule":     {Enabled: true},
	}

	tests := []struct {
		name     string
		features map[string]FeatureConfig
		roles    map[string]bool
		want     []string
	}{
		{
			name:     "practitioner sees everything feature-enabled",
			features: features,
			roles:    roleSet("practitioner"),
			want:     []string{"appointments", "dashboard", "clinical", "clinical/audiology", "clinical/lab-orders", "finance", "finance/invoices"},
		},
		{
			name:     "admin sees settings but not practitioner-only lab",
			features: features,
			roles:    roleSet("admin"),
			want:     []string{"appointments", "dashboard", "clinical", "clinical/audiology", "finance", "finance/invoices", "settings"},
		},
		{
			name: "disabled features prune children; routeless parent dropped, routed parent kept",
			features: map[string]FeatureConfig{
				"LabModule":       {Enabled: false},
				"AudiologyModule": {Enabled: false},
				"SalesModule":     {Enabled: false},
			},
			roles: roleSet("practitioner"),
			want:  []string{"appointments", "dashboard", "finance"},
		},
		{
			name:     "absent feature codes are disabled",
			features: map[string]FeatureConfig{},
			roles:    roleSet(),
			want:     []string{"appointments", "dashboard", "finance"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := navIDList(pruneNav(testNav(), tt.features, tt.roles))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("navigation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPruneNav_DoesNotModifyInput(t *testing.T) {
	nav := testNav()
	pruneNav(nav, map[string]FeatureConfig{}, roleSet())
	if diff := cmp.Diff(testNav(), nav); diff != "" {
		t.Errorf("input navigation modified (-want +got):\n%s", diff)
	}
}

func TestKeepPrunedNode(t *testing.T) {
	leaf := NavItem{ID: "leaf"}
	parent := NavItem{ID: "p", Children: []NavItem{leaf}}
	routed := NavItem{ID: "r", Route: "/r", Children: []NavItem{leaf}}

	if !keepPrunedNode(leaf, nil) {
		t.Error("leaf should be kept")
	}
	if keepPrunedNode(parent, nil) {
		t.Error("routeless parent without children should be dropped")
	}
	if !keepPrunedNode(parent, []NavItem{leaf}) {
		t.Error("parent with surviving children should be kept")
	}
	if !keepPrunedNode(routed, nil) {
		t.Error("routed parent should be kept")
	}
}

func TestMergeNav(t *testing.T) {
	got, err := mergeNav(testNav(), &NavOverride{
		Hide:  []string{"settings"},
		Patch: map[string]Patch{"lab-orders": {"label": "Laboratory"}},
		Add: []NavAddition{
			{ParentID: "clinical", Item: NavItem{ID: "hearing-aids", Label: "Hearing Aids", Route: "/hearing-aids", SortOrder: 30}},
			{Item: NavItem{ID: "reports", Label: "Reports", Route: "/reports", SortOrder: 60}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := navIDList(got)
	want := []string{
		"dashboard", "clinical", "clinical/lab-orders", "clinical/audiology", "clinical/hearing-aids",
		"finance", "finance/invoices", "appointments", "reports",
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("merged navigation mismatch (-want +got):\n%s", diff)
	}
	if got[1].Children[0].Label != "Laboratory" {
		t.Errorf("expected patched label, got %s", got[1].Children[0].Label)
	}
	if base := testNav(); len(base[2].Children) != 2 {
		t.Error("base navigation modified")
	}
}

func TestMergeNav_Errors(t *testing.T) {
	tests := []struct {
		name string
		ov   *NavOverride
		msg  string
	}{
		{"unknown patch", &NavOverride{Patch: map[string]Patch{"nope": {"label": "x"}}}, "no such navigation item"},
		{"frozen children", &NavOverride{Patch: map[string]Patch{"clinical": {"children": []any{}}}}, "cannot be overridden"},
		{"duplicate add", &NavOverride{Add: []NavAddition{{Item: NavItem{ID: "dashboard"}}}}, "duplicate navigation id"},
		{"missing parent", &NavOverride{Add: []NavAddition{{ParentID: "ghost", Item: NavItem{ID: "x"}}}}, "parent ghost not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := testNav()
			got, err := mergeNav(base, tt.ov)
			if err == nil || !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("expected error containing %q, got %v", tt.msg, err)
			}
			if diff := cmp.Diff(testNav(), got); diff != "" {
				t.Errorf("expected outer navigation on error (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeNav_PatchOnHiddenNodeIsNotAnError(t *testing.T) {
	got, err := mergeNav(testNav(), &NavOverride{
		Hide:  []string{"clinical"},
		Patch: map[string]Patch{"lab-orders": {"label": "Laboratory"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range navIDList(got) {
		if strings.HasPrefix(id, "clinical") {
			t.Errorf("hidden subtree still present: %s", id)
		}
	}
}

func TestMergeNav_AddedSubtreeWithExistingID(t *testing.T) {
	tests := []struct {
		name string
		item NavItem
	}{
		{"child clashes with base", NavItem{ID: "extra", Children: []NavItem{{ID: "dashboard"}}}},
		{"children clash with each other", NavItem{ID: "extra", Children: []NavItem{{ID: "a"}, {ID: "a"}}}},
		{"child without id", NavItem{ID: "extra", Children: []NavItem{{Label: "Nameless"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mergeNav(testNav(), &NavOverride{Add: []NavAddition{{Item: tt.item}}})
			if err == nil {
				t.Fatal("expected error")
			}
			if validateNav(got) != nil {
				t.Errorf("merged navigation has invalid ids: %v", navIDList(got))
			}
		})
	}
}
