// pkg/cleanse/engine_test.go
package cleanse

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/model"
	"github.com/cataloghub/feed-cleanse/pkg/refdata"
)

// fixtureLoader serves canned reference data for engine tests.
type fixtureLoader struct {
	definitions []model.AttributeDefinition
	policies    []model.CleansePolicy
	refMaps     []model.ReferenceTableMap
	refRows     map[string][]refdata.RefRow
	ruleSets    []model.RuleSet
	listSources []model.ListSourceMapping
	listItems   []model.ListItem
	tokenRoutes []model.TokenRoute
}

func (l *fixtureLoader) Definitions(ctx context.Context) ([]model.AttributeDefinition, error) {
	return l.definitions, nil
}

func (l *fixtureLoader) Policies(ctx context.Context) ([]model.CleansePolicy, error) {
	return l.policies, nil
}

func (l *fixtureLoader) ReferenceMaps(ctx context.Context) ([]model.ReferenceTableMap, error) {
	return l.refMaps, nil
}

func (l *fixtureLoader) ReferenceRows(ctx context.Context, table string) ([]refdata.RefRow, error) {
	return l.refRows[table], nil
}

func (l *fixtureLoader) RuleSets(ctx context.Context) ([]model.RuleSet, error) {
	return l.ruleSets, nil
}

func (l *fixtureLoader) ListSources(ctx context.Context) ([]model.ListSourceMapping, error) {
	return l.listSources, nil
}

func (l *fixtureLoader) ListItems(ctx context.Context) ([]model.ListItem, error) {
	return l.listItems, nil
}

func (l *fixtureLoader) TokenRoutes(ctx context.Context) ([]model.TokenRoute, error) {
	return l.tokenRoutes, nil
}

func (l *fixtureLoader) BatchMeta(ctx context.Context, batchID string) (*model.BatchMeta, error) {
	return &model.BatchMeta{BatchID: batchID, GroupCompanyCd: "GC1", Status: "CLEANSING"}, nil
}

// memRowStore keeps candidate rows in memory and records persistence calls.
type memRowStore struct {
	rows     []*model.AttributeRow
	saved    []*model.AttributeRow
	inserted []*model.AttributeRow
}

func (s *memRowStore) LoadCandidates(ctx context.Context, batchID string) ([]*model.AttributeRow, error) {
	return s.rows, nil
}

func (s *memRowStore) SaveRow(ctx context.Context, row *model.AttributeRow) error {
	s.saved = append(s.saved, row)
	return nil
}

func (s *memRowStore) InsertRows(ctx context.Context, rows []*model.AttributeRow) error {
	s.inserted = append(s.inserted, rows...)
	return nil
}

func (s *memRowStore) CountRows(ctx context.Context, batchID string) (int64, error) {
	return int64(len(s.rows) + len(s.inserted)), nil
}

type memBatchStore struct {
	stage    string
	counters model.StageCounters
	status   model.BatchStatus
}

func (s *memBatchStore) WriteStageStatus(ctx context.Context, batchID, stage string, counters model.StageCounters, status model.BatchStatus) error {
	s.stage = stage
	s.counters = counters
	s.status = status
	return nil
}

type memErrorSink struct {
	records []model.ErrorRecord
}

func (s *memErrorSink) Record(ctx context.Context, records []model.ErrorRecord) error {
	s.records = append(s.records, records...)
	return nil
}

func newTestEngine(t *testing.T, loader *fixtureLoader, rows []*model.AttributeRow) (*Engine, *memRowStore, *memBatchStore, *memErrorSink) {
	t.Helper()

	store, err := refdata.Load(context.Background(), "B1", loader, zap.NewNop())
	require.NoError(t, err)

	rowStore := &memRowStore{rows: rows}
	batchStore := &memBatchStore{}
	errSink := &memErrorSink{}

	engine, err := NewEngine(store, rowStore, batchStore, errSink, zap.NewNop(), Options{
		WorkerID: "test-worker",
	})
	require.NoError(t, err)
	return engine, rowStore, batchStore, errSink
}

func candidate(tempRowID, attrCd string, seq int) *model.AttributeRow {
	return &model.AttributeRow{
		BatchID:   "B1",
		TempRowID: tempRowID,
		AttrCd:    attrCd,
		AttrSeq:   seq,
	}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func TestRunEndToEnd(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 1, AttrCd: "BRAND", DataType: model.DataTypeRef, SelectType: model.SelectTypeSingle, CleansePhase: 1},
			{ID: 2, AttrCd: "PRICE", DataType: model.DataTypeNum, SelectType: model.SelectTypeSingle, CleansePhase: 5},
			{ID: 3, AttrCd: "COLOR", DataType: model.DataTypeText, SelectType: model.SelectTypeSingle, CleansePhase: 20},
			{ID: 4, AttrCd: "MATERIAL", DataType: model.DataTypeText, SelectType: model.SelectTypeMulti, CleansePhase: 20},
		},
		policies: []model.CleansePolicy{
			{ID: 10, RuleSetID: 1, AttrCd: "BRAND", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeRef,
				RefMapID: nullInt64(100), Active: true},
			{ID: 11, RuleSetID: 1, AttrCd: "PRICE", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeNum, Active: true},
			// The token policy itself is brand-scoped: it only becomes
			// eligible once BRAND has resolved.
			{ID: 12, RuleSetID: 1, AttrCd: "MATERIAL", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherTokenDict, DataType: model.DataTypeText,
				BrandScope: "ACME", Active: true},
			{ID: 13, RuleSetID: 1, AttrCd: "COLOR", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeText,
				BrandScope: "ACME", Active: true},
			{ID: 14, RuleSetID: 1, AttrCd: "COLOR", GroupCompanyCd: "GC1", StepNo: 2,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeText, Active: true},
		},
		refMaps: []model.ReferenceTableMap{{
			ID: 100, AttrCd: "BRAND",
			Hop1Table: "brand_master", Hop1MatchBy: model.MatchByID,
			Hop1IDCol: "src_id", Hop1CodeCol: "brand_cd", Hop1OutLabelCol: "brand_name",
		}},
		refRows: map[string][]refdata.RefRow{
			"brand_master": {
				{"src_id": "B001", "brand_cd": "ACME", "brand_name": "Acme Corp"},
			},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
		tokenRoutes: []model.TokenRoute{
			{Token: "WG", ValueCd: "MAT_WG", ValueText: "White Gold"},
			{Token: "SS", ValueCd: "MAT_SS", ValueText: "Stainless Steel"},
		},
	}

	brand := candidate("P1", "BRAND", 1)
	brand.SourceID = "B001"
	price := candidate("P1", "PRICE", 1)
	price.SourceRaw = "¥1,980"
	material := candidate("P1", "MATERIAL", 1)
	material.SourceRaw = "18K WG/SS"
	color := candidate("P1", "COLOR", 1)
	color.SourceRaw = "red"

	engine, rowStore, batchStore, errSink := newTestEngine(t, loader,
		[]*model.AttributeRow{brand, price, material, color})

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, model.BatchSuccess, result.Status)
	assert.Equal(t, int64(4), result.Counters.Read)
	assert.Equal(t, int64(5), result.Counters.OK, "the expanded material row is counted too")
	assert.Equal(t, int64(0), result.Counters.Warn)
	assert.Equal(t, int64(0), result.Counters.NG)
	assert.Equal(t, 1, result.Products)
	assert.Equal(t, 1, result.ExpandedRows)
	assert.Equal(t, 0, result.Demoted)

	// Reference resolution.
	assert.Equal(t, "ACME", brand.ResolvedCode())
	assert.Equal(t, model.QualityOK, brand.QualityStatus)
	require.True(t, brand.ValueText.Valid)
	assert.Equal(t, "Acme Corp", brand.ValueText.String)

	// Numeric normalization.
	require.True(t, price.ValueNum.Valid)
	assert.Equal(t, "1980", price.ValueNum.Decimal.String())

	// Token expansion: first match in place, second as a new row.
	assert.Equal(t, "MAT_WG", material.ResolvedCode())
	require.Len(t, rowStore.inserted, 1)
	sibling := rowStore.inserted[0]
	assert.Equal(t, "MATERIAL", sibling.AttrCd)
	assert.Equal(t, 2, sibling.AttrSeq)
	assert.Equal(t, "MAT_SS", sibling.ResolvedCode())
	assert.Equal(t, model.QualityOK, sibling.QualityStatus)
	require.NotNil(t, material.QualityDetail)
	assert.Contains(t, material.QualityDetail.Messages[0], "18K", "unmatched tokens are reported")

	// The resolved brand unlocked the brand-scoped COLOR policy.
	require.True(t, color.ValueText.Valid)
	assert.Equal(t, "red", color.ValueText.String)
	require.NotEmpty(t, color.Provenance)
	assert.Equal(t, int64(13), color.Provenance[0].Rule.PolicyID)
	assert.Equal(t, "v2025.10", color.RuleVersion)

	// Every loaded row was point-written; stage status recorded.
	assert.Len(t, rowStore.saved, 4)
	assert.Equal(t, model.StageCleanse, batchStore.stage)
	assert.Equal(t, model.BatchSuccess, batchStore.status)
	assert.Equal(t, result.Counters, batchStore.counters)
	assert.Empty(t, errSink.records)
}

func TestRunScopeNotResolved(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 1, AttrCd: "BRAND", DataType: model.DataTypeRef, SelectType: model.SelectTypeSingle, CleansePhase: 1},
			{ID: 3, AttrCd: "COLOR", DataType: model.DataTypeText, SelectType: model.SelectTypeSingle, CleansePhase: 20},
		},
		policies: []model.CleansePolicy{
			{ID: 10, RuleSetID: 1, AttrCd: "BRAND", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeRef,
				RefMapID: nullInt64(100), Active: true},
			// Only a brand-scoped COLOR policy exists.
			{ID: 13, RuleSetID: 1, AttrCd: "COLOR", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeText,
				BrandScope: "ACME", Active: true},
		},
		refMaps: []model.ReferenceTableMap{{
			ID: 100, AttrCd: "BRAND",
			Hop1Table: "brand_master", Hop1MatchBy: model.MatchByID,
			Hop1IDCol: "src_id", Hop1CodeCol: "brand_cd", Hop1OutLabelCol: "brand_name",
		}},
		refRows: map[string][]refdata.RefRow{
			"brand_master": {
				{"src_id": "B001", "brand_cd": "ACME", "brand_name": "Acme Corp"},
			},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
	}

	brand := candidate("P1", "BRAND", 1)
	brand.SourceID = "B999" // not in the reference table
	color := candidate("P1", "COLOR", 1)
	color.SourceRaw = "red"

	engine, _, batchStore, errSink := newTestEngine(t, loader,
		[]*model.AttributeRow{brand, color})

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityWarn, brand.QualityStatus)
	assert.False(t, brand.ValueCd.Valid, "a failed lookup leaves the values untouched")
	assert.False(t, brand.ValueText.Valid)
	require.NotNil(t, brand.QualityDetail)
	assert.Equal(t, []string{model.ReasonRefNotFound}, brand.QualityDetail.ReasonCds)

	// The brand never resolved, so the scoped COLOR policy stays locked.
	assert.Equal(t, model.QualityWarn, color.QualityStatus)
	require.NotNil(t, color.QualityDetail)
	assert.Equal(t, []string{model.ReasonNoMatchingPolicy}, color.QualityDetail.ReasonCds)
	assert.False(t, color.ValueText.Valid)

	assert.Equal(t, int64(0), result.Counters.OK)
	assert.Equal(t, int64(2), result.Counters.Warn)
	assert.Equal(t, model.BatchFailed, result.Status)
	assert.Equal(t, model.BatchFailed, batchStore.status)

	require.Len(t, errSink.records, 2)
	codes := []string{errSink.records[0].ErrorCd, errSink.records[1].ErrorCd}
	assert.Contains(t, codes, model.ReasonRefNotFound)
	assert.Contains(t, codes, model.ReasonMissingCleansePolicy)
}

func TestRunLegacyReferenceMapFallback(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 1, AttrCd: "BRAND", DataType: model.DataTypeRef, SelectType: model.SelectTypeSingle, CleansePhase: 1},
		},
		policies: []model.CleansePolicy{
			// No ref_map_id: the map must resolve via attr_cd.
			{ID: 10, RuleSetID: 1, AttrCd: "BRAND", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeRef, Active: true},
		},
		refMaps: []model.ReferenceTableMap{{
			ID: 100, AttrCd: "BRAND",
			Hop1Table: "brand_master", Hop1MatchBy: model.MatchByID,
			Hop1IDCol: "src_id", Hop1CodeCol: "brand_cd", Hop1OutLabelCol: "brand_name",
		}},
		refRows: map[string][]refdata.RefRow{
			"brand_master": {
				{"src_id": "B001", "brand_cd": "ACME", "brand_name": "Acme Corp"},
			},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
	}

	brand := candidate("P1", "BRAND", 1)
	brand.SourceID = "B001"

	engine, _, _, _ := newTestEngine(t, loader, []*model.AttributeRow{brand})

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityOK, brand.QualityStatus)
	assert.Equal(t, "ACME", brand.ResolvedCode())
	assert.Equal(t, model.BatchSuccess, result.Status)
}

func TestRunReferenceMapMissing(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 1, AttrCd: "BRAND", DataType: model.DataTypeRef, SelectType: model.SelectTypeSingle, CleansePhase: 1},
		},
		policies: []model.CleansePolicy{
			{ID: 10, RuleSetID: 1, AttrCd: "BRAND", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeRef, Active: true},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
	}

	brand := candidate("P1", "BRAND", 1)
	brand.SourceID = "B001"

	engine, _, _, errSink := newTestEngine(t, loader, []*model.AttributeRow{brand})

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityNG, brand.QualityStatus)
	assert.False(t, brand.ValueCd.Valid)
	require.NotNil(t, brand.QualityDetail)
	assert.Equal(t, []string{model.ReasonRefTableMapNotFound}, brand.QualityDetail.ReasonCds)
	assert.Equal(t, model.BatchFailed, result.Status)

	require.Len(t, errSink.records, 1)
	assert.Equal(t, model.ReasonRefTableMapNotFound, errSink.records[0].ErrorCd)
}

func TestRunSingleValueReconciliation(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 5, AttrCd: "SIZE", DataType: model.DataTypeText, SelectType: model.SelectTypeSingle, CleansePhase: 1},
		},
		policies: []model.CleansePolicy{
			{ID: 20, RuleSetID: 1, AttrCd: "SIZE", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeText, Active: true},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
	}

	first := candidate("P1", "SIZE", 1)
	first.SourceRaw = "M"
	second := candidate("P1", "SIZE", 2)
	second.SourceRaw = "L"

	engine, _, _, _ := newTestEngine(t, loader, []*model.AttributeRow{first, second})

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Demoted)
	assert.Equal(t, int64(1), result.Counters.OK)
	assert.Equal(t, int64(1), result.Counters.Warn)
	assert.Equal(t, model.BatchPartial, result.Status)

	var winners, losers int
	for _, row := range []*model.AttributeRow{first, second} {
		switch row.QualityStatus {
		case model.QualityOK:
			winners++
			assert.True(t, row.ValueText.Valid, "the winner keeps its value")
		case model.QualityWarn:
			losers++
			assert.False(t, row.ValueCd.Valid, "demoted rows lose their values")
			assert.False(t, row.ValueText.Valid)
			require.NotNil(t, row.QualityDetail)
			assert.Empty(t, row.QualityDetail.ReasonCds)
			assert.NotEmpty(t, row.QualityDetail.Messages)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)
}

func TestRunMissingDefinition(t *testing.T) {
	loader := &fixtureLoader{}

	row := candidate("P1", "MYSTERY", 1)
	row.SourceRaw = "whatever"

	engine, _, _, errSink := newTestEngine(t, loader, []*model.AttributeRow{row})

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityWarn, row.QualityStatus)
	require.NotNil(t, row.QualityDetail)
	assert.Equal(t, []string{model.ReasonMissingAttrDefinition}, row.QualityDetail.ReasonCds)
	assert.Equal(t, model.BatchFailed, result.Status)

	require.Len(t, errSink.records, 1)
	assert.Equal(t, model.ReasonMissingAttrDefinition, errSink.records[0].ErrorCd)
	assert.Equal(t, "P1/MYSTERY#1", errSink.records[0].RecordRef)
}

func TestRunBlankSourceAndBadCast(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 2, AttrCd: "PRICE", DataType: model.DataTypeNum, SelectType: model.SelectTypeMulti, CleansePhase: 5},
			{ID: 6, AttrCd: "RELEASED", DataType: model.DataTypeTimestampTZ, SelectType: model.SelectTypeSingle, CleansePhase: 5},
		},
		policies: []model.CleansePolicy{
			{ID: 11, RuleSetID: 1, AttrCd: "PRICE", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeNum, Active: true},
			{ID: 15, RuleSetID: 1, AttrCd: "RELEASED", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeTimestampTZ, Active: true},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
	}

	blank := candidate("P1", "PRICE", 1) // no raw value at all
	badDate := candidate("P1", "RELEASED", 1)
	badDate.SourceRaw = "22/10/2025" // does not match YYYY/MM/DD

	engine, _, _, errSink := newTestEngine(t, loader, []*model.AttributeRow{blank, badDate})

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	require.NotNil(t, blank.QualityDetail)
	assert.Equal(t, []string{model.ReasonSourceRawNotFound}, blank.QualityDetail.ReasonCds)
	assert.Equal(t, model.QualityNG, blank.QualityStatus)

	require.NotNil(t, badDate.QualityDetail)
	assert.Equal(t, []string{model.ReasonInvalidTypeCast}, badDate.QualityDetail.ReasonCds)
	assert.Equal(t, model.QualityNG, badDate.QualityStatus)

	assert.Equal(t, int64(2), result.Counters.NG)
	assert.Equal(t, model.BatchFailed, result.Status)
	assert.Len(t, errSink.records, 2)
}

func TestRunTokenNothingMatched(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 4, AttrCd: "MATERIAL", DataType: model.DataTypeText, SelectType: model.SelectTypeMulti, CleansePhase: 20},
		},
		policies: []model.CleansePolicy{
			{ID: 12, RuleSetID: 1, AttrCd: "MATERIAL", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherTokenDict, DataType: model.DataTypeText, Active: true},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
	}

	row := candidate("P1", "MATERIAL", 1)
	row.SourceRaw = "obsidian/unobtainium"

	engine, rowStore, _, errSink := newTestEngine(t, loader, []*model.AttributeRow{row})

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityWarn, row.QualityStatus)
	require.NotNil(t, row.QualityDetail)
	assert.Equal(t, []string{model.ReasonColorOutputEmpty}, row.QualityDetail.ReasonCds)
	assert.Empty(t, rowStore.inserted)
	assert.Equal(t, 0, result.ExpandedRows)

	require.Len(t, errSink.records, 1)
	assert.Equal(t, model.ReasonColorOutputEmpty, errSink.records[0].ErrorCd)
}

func TestRunEarlyPhaseTokenRoutesIgnoreSiblingScope(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 1, AttrCd: "BRAND", DataType: model.DataTypeRef, SelectType: model.SelectTypeSingle, CleansePhase: 1},
			// Early phase: route selection must not see the resolved brand.
			{ID: 4, AttrCd: "MATERIAL", DataType: model.DataTypeText, SelectType: model.SelectTypeMulti, CleansePhase: 5},
		},
		policies: []model.CleansePolicy{
			{ID: 10, RuleSetID: 1, AttrCd: "BRAND", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeRef,
				RefMapID: nullInt64(100), Active: true},
			{ID: 12, RuleSetID: 1, AttrCd: "MATERIAL", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherTokenDict, DataType: model.DataTypeText, Active: true},
		},
		refMaps: []model.ReferenceTableMap{{
			ID: 100, AttrCd: "BRAND",
			Hop1Table: "brand_master", Hop1MatchBy: model.MatchByID,
			Hop1IDCol: "src_id", Hop1CodeCol: "brand_cd", Hop1OutLabelCol: "brand_name",
		}},
		refRows: map[string][]refdata.RefRow{
			"brand_master": {
				{"src_id": "B001", "brand_cd": "ACME", "brand_name": "Acme Corp"},
			},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
		tokenRoutes: []model.TokenRoute{
			{Token: "WG", ValueCd: "MAT_WG", ValueText: "White Gold"},
			{Token: "WG", Brand: "ACME", ValueCd: "MAT_WG_ACME", ValueText: "Acme White Gold"},
		},
	}

	brand := candidate("P1", "BRAND", 1)
	brand.SourceID = "B001"
	material := candidate("P1", "MATERIAL", 1)
	material.SourceRaw = "WG"

	engine, _, _, _ := newTestEngine(t, loader, []*model.AttributeRow{brand, material})

	_, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, "ACME", brand.ResolvedCode())
	assert.Equal(t, model.QualityOK, material.QualityStatus)
	assert.Equal(t, "MAT_WG", material.ResolvedCode(),
		"an early-phase attribute picks the unscoped route even after BRAND resolves")
}

func TestRunConcurrentProducts(t *testing.T) {
	loader := &fixtureLoader{
		definitions: []model.AttributeDefinition{
			{ID: 5, AttrCd: "SIZE", DataType: model.DataTypeText, SelectType: model.SelectTypeMulti, CleansePhase: 1},
		},
		policies: []model.CleansePolicy{
			{ID: 20, RuleSetID: 1, AttrCd: "SIZE", GroupCompanyCd: "GC1", StepNo: 1,
				MatcherKind: model.MatcherIDExact, DataType: model.DataTypeText, Active: true},
		},
		ruleSets: []model.RuleSet{{ID: 1, Version: "v2025.10", Active: true}},
	}

	var rows []*model.AttributeRow
	for i := 0; i < 50; i++ {
		row := candidate("P"+string(rune('A'+i%26))+string(rune('0'+i/26)), "SIZE", 1)
		row.SourceRaw = "M"
		rows = append(rows, row)
	}

	store, err := refdata.Load(context.Background(), "B1", loader, zap.NewNop())
	require.NoError(t, err)

	rowStore := &memRowStore{rows: rows}
	engine, err := NewEngine(store, rowStore, &memBatchStore{}, &memErrorSink{}, zap.NewNop(), Options{
		WorkerID:       "test-worker",
		ProductWorkers: 8,
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, int64(50), result.Counters.OK)
	assert.Equal(t, model.BatchSuccess, result.Status)
	assert.Len(t, rowStore.saved, 50)
}
