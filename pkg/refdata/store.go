// pkg/refdata/store.go
package refdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cataloghub/feed-cleanse/pkg/model"
)

// RefRow is one row of an external reference table, column name to value.
type RefRow map[string]string

// Loader fetches the reference families the cache is built from. The SQL
// implementation reads the warehouse and staging databases; tests provide
// an in-memory fake.
type Loader interface {
	Definitions(ctx context.Context) ([]model.AttributeDefinition, error)
	Policies(ctx context.Context) ([]model.CleansePolicy, error)
	ReferenceMaps(ctx context.Context) ([]model.ReferenceTableMap, error)
	ReferenceRows(ctx context.Context, table string) ([]RefRow, error)
	RuleSets(ctx context.Context) ([]model.RuleSet, error)
	ListSources(ctx context.Context) ([]model.ListSourceMapping, error)
	ListItems(ctx context.Context) ([]model.ListItem, error)
	TokenRoutes(ctx context.Context) ([]model.TokenRoute, error)
	BatchMeta(ctx context.Context, batchID string) (*model.BatchMeta, error)
}

// Store holds all reference data for one cleansing run. It is built once
// by Load and read-only afterwards; no locking is needed.
type Store struct {
	definitions   map[string]model.AttributeDefinition
	policies      map[string][]model.CleansePolicy
	refMaps       map[int64]model.ReferenceTableMap
	refMapsByAttr map[string]model.ReferenceTableMap
	ruleSets      map[int64]model.RuleSet
	refTables     map[string][]RefRow
	listByID      map[string]string
	listByLabel   map[string]string
	listItems     map[string]model.ListItem
	tokenRoutes   map[string][]model.TokenRoute
	batch         *model.BatchMeta
}

// Load fetches the six reference families concurrently and freezes them
// into a read-only Store.
func Load(ctx context.Context, batchID string, loader Loader, logger *zap.Logger) (*Store, error) {
	if loader == nil {
		return nil, errors.New("loader cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	var (
		definitions []model.AttributeDefinition
		policies    []model.CleansePolicy
		refMaps     []model.ReferenceTableMap
		refTables   map[string][]RefRow
		ruleSets    []model.RuleSet
		listSources []model.ListSourceMapping
		listItems   []model.ListItem
		tokenRoutes []model.TokenRoute
		batch       *model.BatchMeta
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		definitions, err = loader.Definitions(gctx)
		if err != nil {
			return fmt.Errorf("failed to load attribute definitions: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		policies, err = loader.Policies(gctx)
		if err != nil {
			return fmt.Errorf("failed to load cleanse policies: %w", err)
		}
		ruleSets, err = loader.RuleSets(gctx)
		if err != nil {
			return fmt.Errorf("failed to load rule sets: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		refMaps, err = loader.ReferenceMaps(gctx)
		if err != nil {
			return fmt.Errorf("failed to load reference table maps: %w", err)
		}

		// Fetch every table named by a map exactly once.
		refTables = make(map[string][]RefRow)
		for _, m := range refMaps {
			for _, table := range []string{m.Hop1Table, m.Hop2Table} {
				if table == "" {
					continue
				}
				if _, done := refTables[table]; done {
					continue
				}
				rows, err := loader.ReferenceRows(gctx, table)
				if err != nil {
					return fmt.Errorf("failed to load reference table %s: %w", table, err)
				}
				refTables[table] = rows
			}
		}
		return nil
	})

	g.Go(func() error {
		var err error
		listSources, err = loader.ListSources(gctx)
		if err != nil {
			return fmt.Errorf("failed to load list source mappings: %w", err)
		}
		listItems, err = loader.ListItems(gctx)
		if err != nil {
			return fmt.Errorf("failed to load list items: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		tokenRoutes, err = loader.TokenRoutes(gctx)
		if err != nil {
			return fmt.Errorf("failed to load token routes: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		batch, err = loader.BatchMeta(gctx, batchID)
		if err != nil {
			return fmt.Errorf("failed to load batch metadata: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Store{
		definitions:   make(map[string]model.AttributeDefinition, len(definitions)),
		policies:      make(map[string][]model.CleansePolicy),
		refMaps:       make(map[int64]model.ReferenceTableMap, len(refMaps)),
		refMapsByAttr: make(map[string]model.ReferenceTableMap),
		ruleSets:      make(map[int64]model.RuleSet, len(ruleSets)),
		refTables:     refTables,
		listByID:      make(map[string]string),
		listByLabel:   make(map[string]string),
		listItems:     make(map[string]model.ListItem, len(listItems)),
		tokenRoutes:   make(map[string][]model.TokenRoute),
		batch:         batch,
	}

	// Duplicate attribute codes keep the definition with the lowest id,
	// independent of source iteration order.
	for _, def := range definitions {
		existing, ok := s.definitions[def.AttrCd]
		switch {
		case !ok:
			s.definitions[def.AttrCd] = def
		case def.ID < existing.ID:
			logger.Warn("Duplicate attribute definition",
				zap.String("attr_cd", def.AttrCd),
				zap.Int64("kept_id", def.ID),
				zap.Int64("dropped_id", existing.ID))
			s.definitions[def.AttrCd] = def
		default:
			logger.Warn("Duplicate attribute definition",
				zap.String("attr_cd", def.AttrCd),
				zap.Int64("kept_id", existing.ID),
				zap.Int64("dropped_id", def.ID))
		}
	}

	for _, p := range policies {
		if !p.Active {
			continue
		}
		key := policyKey(p.AttrCd, p.GroupCompanyCd)
		s.policies[key] = append(s.policies[key], p)
	}

	for _, m := range refMaps {
		s.refMaps[m.ID] = m
		if m.AttrCd != "" {
			if _, dup := s.refMapsByAttr[m.AttrCd]; !dup {
				s.refMapsByAttr[m.AttrCd] = m
			}
		}
	}

	for _, rs := range ruleSets {
		s.ruleSets[rs.ID] = rs
	}

	for _, m := range listSources {
		if m.SourceID != "" {
			s.listByID[listKey(m.AttrCd, m.GroupCompanyCd, m.SourceID)] = m.ItemID
		}
		if m.SourceLabel != "" {
			s.listByLabel[listKey(m.AttrCd, m.GroupCompanyCd, strings.ToUpper(m.SourceLabel))] = m.ItemID
		}
	}

	for _, item := range listItems {
		s.listItems[item.ItemID] = item
	}

	for _, r := range tokenRoutes {
		key := strings.ToUpper(r.Token)
		s.tokenRoutes[key] = append(s.tokenRoutes[key], r)
	}

	logger.Info("Reference data loaded",
		zap.String("batch_id", batchID),
		zap.Int("definitions", len(s.definitions)),
		zap.Int("policies", len(policies)),
		zap.Int("reference_maps", len(s.refMaps)),
		zap.Int("reference_tables", len(s.refTables)),
		zap.Int("rule_sets", len(s.ruleSets)),
		zap.Int("list_items", len(s.listItems)),
		zap.Int("token_routes", len(tokenRoutes)))

	return s, nil
}

// Definition returns the attribute definition for a code.
func (s *Store) Definition(attrCd string) (model.AttributeDefinition, bool) {
	def, ok := s.definitions[attrCd]
	return def, ok
}

// PoliciesFor returns the active candidate policies for an attribute code
// under a group company. Globally defined policies (empty group company)
// are included after the company-specific ones.
func (s *Store) PoliciesFor(attrCd, groupCompanyCd string) []model.CleansePolicy {
	out := append([]model.CleansePolicy(nil), s.policies[policyKey(attrCd, groupCompanyCd)]...)
	if groupCompanyCd != "" {
		out = append(out, s.policies[policyKey(attrCd, "")]...)
	}
	return out
}

// RefMap returns the reference table map with the given id.
func (s *Store) RefMap(id int64) (model.ReferenceTableMap, bool) {
	m, ok := s.refMaps[id]
	return m, ok
}

// RefMapByAttr returns the reference table map registered for an attribute
// code. This is the legacy lookup path for policies without a ref_map_id.
func (s *Store) RefMapByAttr(attrCd string) (model.ReferenceTableMap, bool) {
	m, ok := s.refMapsByAttr[attrCd]
	return m, ok
}

// RuleVersion returns the version string of a rule set, or "" if unknown.
func (s *Store) RuleVersion(ruleSetID int64) string {
	if rs, ok := s.ruleSets[ruleSetID]; ok {
		return rs.Version
	}
	return ""
}

// RefRows returns the cached rows of a reference table.
func (s *Store) RefRows(table string) []RefRow {
	return s.refTables[table]
}

// ListItemIDByID resolves a source id to a vocabulary item id, preferring
// a group-company-specific mapping over a global one.
func (s *Store) ListItemIDByID(attrCd, groupCompanyCd, sourceID string) (string, bool) {
	if id, ok := s.listByID[listKey(attrCd, groupCompanyCd, sourceID)]; ok {
		return id, true
	}
	id, ok := s.listByID[listKey(attrCd, "", sourceID)]
	return id, ok
}

// ListItemIDByLabel resolves a source label to a vocabulary item id,
// case-insensitively, preferring a group-company-specific mapping.
func (s *Store) ListItemIDByLabel(attrCd, groupCompanyCd, sourceLabel string) (string, bool) {
	label := strings.ToUpper(sourceLabel)
	if id, ok := s.listByLabel[listKey(attrCd, groupCompanyCd, label)]; ok {
		return id, true
	}
	id, ok := s.listByLabel[listKey(attrCd, "", label)]
	return id, ok
}

// ListItem returns the vocabulary item with the given id.
func (s *Store) ListItem(itemID string) (model.ListItem, bool) {
	item, ok := s.listItems[itemID]
	return item, ok
}

// RoutesForToken returns every token route registered for a token,
// regardless of scope; callers filter by applicability.
func (s *Store) RoutesForToken(token string) []model.TokenRoute {
	return s.tokenRoutes[strings.ToUpper(token)]
}

// Batch returns the batch metadata loaded at run start.
func (s *Store) Batch() *model.BatchMeta {
	return s.batch
}

// GroupCompanyCd returns the group company of the current batch.
func (s *Store) GroupCompanyCd() string {
	if s.batch == nil {
		return ""
	}
	return s.batch.GroupCompanyCd
}

func policyKey(attrCd, groupCompanyCd string) string {
	return attrCd + "\x1f" + strings.ToUpper(groupCompanyCd)
}

func listKey(attrCd, groupCompanyCd, value string) string {
	return attrCd + "\x1f" + strings.ToUpper(groupCompanyCd) + "\x1f" + value
}
