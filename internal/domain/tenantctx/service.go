package tenantctx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	baseline  *Baseline
	overrides OverrideStore
	hierarchy HierarchyReader
	logger    zerolog.Logger
	metrics   *Metrics
}

func NewService(baseline *Baseline, overrides OverrideStore, hierarchy HierarchyReader, logger zerolog.Logger) *Service {
	return &Service{
		baseline:  baseline,
		overrides: overrides,
		hierarchy: hierarchy,
		logger:    logger.With().Str("component", "tenantctx").Logger(),
	}
}

// SetMetrics attaches optional Prometheus metrics to the service.
func (s *Service) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Baseline returns the platform defaults the service was built with.
func (s *Service) Baseline() *Baseline {
	return s.baseline
}

// Resolve builds the TenantContext for req. It returns a *NotFoundError when
// the hierarchy does not resolve, and an *UnexpectedError for any other
// failure. Malformed overrides never fail the call; the outer level applies.
func (s *Service) Resolve(ctx context.Context, req Request) (*TenantContext, error) {
	start := time.Now()
	tc, err := s.resolve(ctx, req)
	s.metrics.observeResolve(err, time.Since(start))
	return tc, err
}

func (s *Service) resolve(ctx context.Context, req Request) (*TenantContext, error) {
	if s.baseline == nil {
		return nil, &UnexpectedError{Err: errors.New("platform baseline is not loaded")}
	}

	var (
		h          *Hierarchy
		tenantRec  *OverrideRecord
		companyRec *OverrideRecord
	)
	// The hierarchy lookup runs to completion even when an override load
	// fails; its not-found result takes precedence.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		h, err = s.hierarchy.Hierarchy(ctx, req.TenantID, req.CompanyID, req.BranchID)
		if err != nil {
			return fmt.Errorf("load hierarchy: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tenantRec, err = optionalRecord(s.overrides.TenantOverrides(ctx, req.TenantID))
		if err != nil {
			return fmt.Errorf("load tenant overrides: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		companyRec, err = optionalRecord(s.overrides.CompanyOverrides(ctx, req.CompanyID))
		if err != nil {
			return fmt.Errorf("load company overrides: %w", err)
		}
		return nil
	})
	err := g.Wait()
	if h != nil && !h.Valid {
		return nil, notFoundFor(h.Missing, req)
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("tenant_id", req.TenantID.String()).
			Str("company_id", req.CompanyID.String()).
			Msg("tenant context resolution failed")
		return nil, &UnexpectedError{Err: err}
	}

	log := s.logger.With().
		Str("tenant_id", req.TenantID.String()).
		Str("company_id", req.CompanyID.String()).
		Logger()
	report := func(ce *ConfigurationError) {
		log.Warn().Err(ce.Err).
			Str("level", string(ce.Level)).
			Str("section", ce.Section).
			Msg("override ignored, falling back to outer level")
		s.metrics.observeFallback(ce)
	}

	levels := []leveled{
		{level: LevelTenant, ov: s.decodeRecord(log, LevelTenant, tenantRec, report)},
		{level: LevelCompany, ov: s.decodeRecord(log, LevelCompany, companyRec, report)},
	}
	m := mergeLevels(s.baseline, levels, report)
	return assemble(req, h, s.baseline.Version, m), nil
}

func optionalRecord(rec *OverrideRecord, err error) (*OverrideRecord, error) {
	if errors.Is(err, ErrOverridesNotFound) {
		return nil, nil
	}
	return rec, err
}

func notFoundFor(missing string, req Request) *NotFoundError {
	switch missing {
	case "company":
		return &NotFoundError{Kind: "company", ID: req.CompanyID.String()}
	case "branch":
		return &NotFoundError{Kind: "branch", ID: req.BranchID.String()}
	default:
		return &NotFoundError{Kind: "tenant", ID: req.TenantID.String()}
	}
}

func (s *Service) decodeRecord(log zerolog.Logger, level Level, rec *OverrideRecord, report func(*ConfigurationError)) *Overrides {
	if rec == nil {
		log.Debug().Str("level", string(level)).Msg("no overrides")
		return nil
	}
	ov, err := DecodeOverrides(rec.Document)
	if err != nil {
		report(configErr(level, "document", err))
		return nil
	}
	return ov
}

type leveled struct {
	level Level
	ov    *Overrides
}

// merged holds the configuration after all precedence levels were applied
// and before any caller-specific gating.
type merged struct {
	features        map[string]FeatureConfig
	settings        TenantSettings
	branding        Branding
	terminology     map[string]string
	rolePermissions map[string][]string
	navigation      []NavItem
	schemas         map[string]UISchema
	forms           map[string]FormLayout
	lists           map[string]ListLayout
}

// mergeLevels lays each level over the result of the previous ones, in
// order. A section that fails to merge at a level keeps the outer value.
func mergeLevels(b *Baseline, levels []leveled, report func(*ConfigurationError)) merged {
	m := merged{
		features:        b.Features,
		settings:        b.Settings,
		branding:        b.Branding,
		terminology:     b.Terminology,
		rolePermissions: b.RolePermissions,
		navigation:      b.Navigation,
		schemas:         b.Schemas,
		forms:           b.Forms,
		lists:           b.Lists,
	}
	for _, l := range levels {
		if l.ov == nil {
			continue
		}
		ov := l.ov
		m.features = mergeFeatures(m.features, ov.Features)
		m.terminology = mergeStrings(m.terminology, ov.Terminology)
		m.rolePermissions = mergeRolePermissions(m.rolePermissions, ov.RolePermissions)

		if settings, err := applyPatch(m.settings, ov.Settings); err != nil {
			report(configErr(l.level, "settings", err))
		} else {
			m.settings = settings
		}
		if branding, err := applyPatch(m.branding, ov.Branding); err != nil {
			report(configErr(l.level, "branding", err))
		} else {
			m.branding = branding
		}
		if nav, err := mergeNav(m.navigation, ov.Navigation); err != nil {
			report(configErr(l.level, "navigation", err))
		} else {
			m.navigation = nav
		}

		if len(ov.Schemas) > 0 {
			schemas := cloneMap(m.schemas)
			for _, entity := range sortedKeys(ov.Schemas) {
				base, exists := schemas[entity]
				s, err := mergeSchema(entity, base, exists, ov.Schemas[entity])
				if err != nil {
					report(configErr(l.level, "schema:"+entity, err))
					continue
				}
				schemas[entity] = s
			}
			m.schemas = schemas
		}
		if len(ov.Forms) > 0 {
			forms := cloneMap(m.forms)
			for _, entity := range sortedKeys(ov.Forms) {
				schema, ok := m.schemas[entity]
				if !ok {
					report(configErr(l.level, "form:"+entity, fmt.Errorf("no schema for entity %s", entity)))
					continue
				}
				base, exists := forms[entity]
				f, err := mergeForm(entity, base, exists, ov.Forms[entity], schema)
				if err != nil {
					report(configErr(l.level, "form:"+entity, err))
					continue
				}
				forms[entity] = f
			}
			m.forms = forms
		}
		if len(ov.Lists) > 0 {
			lists := cloneMap(m.lists)
			for _, entity := range sortedKeys(ov.Lists) {
				schema, ok := m.schemas[entity]
				if !ok {
					report(configErr(l.level, "list:"+entity, fmt.Errorf("no schema for entity %s", entity)))
					continue
				}
				base, exists := lists[entity]
				ll, err := mergeList(entity, base, exists, ov.Lists[entity], schema)
				if err != nil {
					report(configErr(l.level, "list:"+entity, err))
					continue
				}
				lists[entity] = ll
			}
			m.lists = lists
		}
	}
	return m
}

// assemble applies the caller's roles to the merged configuration. The
// returned maps and the gated field, section, column and action slices are
// fresh; nested slices and pointers still alias the baseline, so the result
// is read-only.
func assemble(req Request, h *Hierarchy, version string, m merged) *TenantContext {
	roles := normalizeRoles(req.Roles)
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}

	features := make(map[string]FeatureConfig, len(m.features))
	for code, fc := range m.features {
		features[code] = FeatureConfig{Enabled: fc.Enabled, Settings: mergeSettings(fc.Settings, nil)}
	}

	schemas := make(map[string]UISchema, len(m.schemas))
	for entity, s := range m.schemas {
		fields := make([]FieldDefinition, len(s.Fields))
		for i, f := range s.Fields {
			if !passesGates(f.FeatureCode, f.RequiredRoles, features, roleSet) {
				f.Visible = false
			}
			fields[i] = f
		}
		s.Fields = fields
		schemas[entity] = s
	}

	lists := make(map[string]ListLayout, len(m.lists))
	for entity, l := range m.lists {
		l.Columns = append([]ListColumn(nil), l.Columns...)
		l.Actions = ListActions{
			Row:    gateActions(l.Actions.Row, features, roleSet),
			Bulk:   gateActions(l.Actions.Bulk, features, roleSet),
			Header: gateActions(l.Actions.Header, features, roleSet),
		}
		lists[entity] = l
	}

	forms := make(map[string]FormLayout, len(m.forms))
	for entity, f := range m.forms {
		f.Sections = append([]FormSection(nil), f.Sections...)
		forms[entity] = f
	}

	return &TenantContext{
		TenantID:    req.TenantID,
		TenantName:  h.TenantName,
		CompanyID:   req.CompanyID,
		CompanyName: h.CompanyName,
		BranchID:    req.BranchID,
		BranchName:  h.BranchName,
		UserID:      req.UserID,
		UserName:    req.UserName,
		Roles:       roles,
		Permissions: permissionsFor(m.rolePermissions, roles),
		Version:     version,
		Branding:    m.branding,
		Features:    features,
		Navigation:  pruneNav(m.navigation, features, roleSet),
		Terminology: mergeStrings(m.terminology, nil),
		Schemas:     schemas,
		Forms:       forms,
		Lists:       lists,
		Settings:    m.settings,
	}
}

func gateActions(actions []ListAction, features map[string]FeatureConfig, roles map[string]bool) []ListAction {
	out := make([]ListAction, len(actions))
	for i, a := range actions {
		if !passesGates(a.FeatureCode, a.RequiredRoles, features, roles) {
			a.Visible = false
		}
		out[i] = a
	}
	return out
}

func normalizeRoles(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func permissionsFor(rolePermissions map[string][]string, roles []string) []string {
	seen := make(map[string]bool)
	perms := make([]string, 0)
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			if !seen[p] {
				seen[p] = true
				perms = append(perms, p)
			}
		}
	}
	sort.Strings(perms)
	return perms
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// -- Override administration --

// Overrides returns the stored override document for a scope.
func (s *Service) Overrides(ctx context.Context, level Level, scopeID uuid.UUID) (*OverrideRecord, error) {
	switch level {
	case LevelTenant:
		return s.overrides.TenantOverrides(ctx, scopeID)
	case LevelCompany:
		return s.overrides.CompanyOverrides(ctx, scopeID)
	default:
		return nil, fmt.Errorf("unsupported override level %q", level)
	}
}

// CheckOverrides reports every section of doc that would be ignored at
// resolution time as a *RejectedError. A company document is merged over the
// baseline plus its tenant's stored overrides, the same stack it resolves
// against; with a nil scopeID it is checked against the baseline alone.
func (s *Service) CheckOverrides(ctx context.Context, level Level, scopeID uuid.UUID, doc []byte) error {
	ov, err := DecodeOverrides(doc)
	if err != nil {
		return &RejectedError{Problems: []*ConfigurationError{configErr(level, "document", err)}}
	}
	var levels []leveled
	if level == LevelCompany && scopeID != uuid.Nil {
		tenant, err := s.tenantLevelFor(ctx, scopeID)
		if err != nil {
			return err
		}
		levels = append(levels, tenant)
	}
	levels = append(levels, leveled{level: level, ov: ov})

	var problems []*ConfigurationError
	mergeLevels(s.baseline, levels, func(ce *ConfigurationError) {
		if ce.Level == level {
			problems = append(problems, ce)
		}
	})
	if len(problems) > 0 {
		return &RejectedError{Problems: problems}
	}
	return nil
}

// tenantLevelFor loads the tenant overrides that sit under a company. An
// undecodable tenant document is skipped, as Resolve does.
func (s *Service) tenantLevelFor(ctx context.Context, companyID uuid.UUID) (leveled, error) {
	tenantID, err := s.hierarchy.CompanyTenant(ctx, companyID)
	if err != nil {
		return leveled{}, err
	}
	rec, err := optionalRecord(s.overrides.TenantOverrides(ctx, tenantID))
	if err != nil {
		return leveled{}, fmt.Errorf("load tenant overrides: %w", err)
	}
	l := leveled{level: LevelTenant}
	if rec != nil {
		l.ov, _ = DecodeOverrides(rec.Document)
	}
	return l, nil
}

// PutOverrides validates and stores an override document.
func (s *Service) PutOverrides(ctx context.Context, rec *OverrideRecord) error {
	if rec.Level != LevelTenant && rec.Level != LevelCompany {
		return fmt.Errorf("unsupported override level %q", rec.Level)
	}
	if rec.ScopeID == uuid.Nil {
		return fmt.Errorf("scope id is required")
	}
	if err := s.CheckOverrides(ctx, rec.Level, rec.ScopeID, rec.Document); err != nil {
		return err
	}
	if err := s.overrides.PutOverrides(ctx, rec); err != nil {
		return fmt.Errorf("store overrides: %w", err)
	}
	s.logger.Info().
		Str("level", string(rec.Level)).
		Str("scope_id", rec.ScopeID.String()).
		Int("version", rec.Version).
		Str("updated_by", rec.UpdatedBy).
		Msg("overrides updated")
	return nil
}

func (s *Service) DeleteOverrides(ctx context.Context, level Level, scopeID uuid.UUID) error {
	return s.overrides.DeleteOverrides(ctx, level, scopeID)
}
