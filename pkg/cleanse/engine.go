// pkg/cleanse/engine.go
// Package cleanse orchestrates one cleansing run: it walks every product
// of a batch in phase order, resolves each attribute candidate through
// the policy catalog, reconciles single-valued attributes and persists
// the outcomes.
package cleanse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cataloghub/feed-cleanse/pkg/model"
	"github.com/cataloghub/feed-cleanse/pkg/normalize"
	"github.com/cataloghub/feed-cleanse/pkg/policy"
	"github.com/cataloghub/feed-cleanse/pkg/quality"
	"github.com/cataloghub/feed-cleanse/pkg/refdata"
	"github.com/cataloghub/feed-cleanse/pkg/resolver"
)

// Options tunes one engine instance.
type Options struct {
	// DatePattern is the PostgreSQL-style pattern TIMESTAMPTZ attributes
	// are parsed with. Defaults to YYYY/MM/DD.
	DatePattern string

	// WorkerID identifies this process in provenance audit records.
	// Defaults to a generated id.
	WorkerID string

	// ProductWorkers is the number of products processed concurrently.
	// Defaults to 1; products are independent so any value is safe.
	ProductWorkers int
}

// Engine runs the cleansing stage for one batch at a time.
type Engine struct {
	store   *refdata.Store
	rows    RowStore
	batches BatchStore
	errs    ErrorSink

	builder *quality.Builder
	refs    *resolver.Reference
	lists   *resolver.List
	tokens  *resolver.Token

	logger *zap.Logger
	opts   Options
}

// RunResult summarizes one completed cleansing run.
type RunResult struct {
	BatchID      string
	Status       model.BatchStatus
	Counters     model.StageCounters
	Products     int
	ExpandedRows int
	Demoted      int
	Duration     time.Duration
}

// NewEngine assembles an engine over a loaded reference data store and
// the persistence collaborators.
func NewEngine(store *refdata.Store, rows RowStore, batches BatchStore, errs ErrorSink, logger *zap.Logger, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("reference data store cannot be nil")
	}
	if rows == nil {
		return nil, errors.New("row store cannot be nil")
	}
	if batches == nil {
		return nil, errors.New("batch store cannot be nil")
	}
	if errs == nil {
		return nil, errors.New("error sink cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if opts.DatePattern == "" {
		opts.DatePattern = "YYYY/MM/DD"
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "cleanse-" + uuid.New().String()[:8]
	}
	if opts.ProductWorkers < 1 {
		opts.ProductWorkers = 1
	}

	builder, err := quality.NewBuilder(opts.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create quality builder: %w", err)
	}
	refs, err := resolver.NewReference(store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference resolver: %w", err)
	}
	lists, err := resolver.NewList(store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create list resolver: %w", err)
	}
	tokens, err := resolver.NewToken(store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create token resolver: %w", err)
	}

	return &Engine{
		store:   store,
		rows:    rows,
		batches: batches,
		errs:    errs,
		builder: builder,
		refs:    refs,
		lists:   lists,
		tokens:  tokens,
		logger:  logger,
		opts:    opts,
	}, nil
}

// Run executes the cleansing stage for one batch: load candidates, walk
// every product in phase order, reconcile single-valued attributes,
// persist every touched row and write the stage outcome into the batch
// status document.
func (e *Engine) Run(ctx context.Context, batchID string) (*RunResult, error) {
	start := time.Now()

	rows, err := e.rows.LoadCandidates(ctx, batchID)
	if err != nil {
		return nil, err
	}

	counters := model.StageCounters{Read: int64(len(rows))}
	products, order := groupByProduct(rows)

	e.logger.Info("Starting cleansing run",
		zap.String("batch_id", batchID),
		zap.String("group_company_cd", e.store.GroupCompanyCd()),
		zap.Int("rows", len(rows)),
		zap.Int("products", len(order)),
		zap.Int("workers", e.opts.ProductWorkers))

	// Products are independent; each goroutine only touches its own rows.
	results := make([]productResult, len(order))
	var g errgroup.Group
	g.SetLimit(e.opts.ProductWorkers)
	for i, tempRowID := range order {
		i, tempRowID := i, tempRowID
		g.Go(func() error {
			results[i] = e.processProduct(products[tempRowID])
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; panics are contained per row

	var expanded []*model.AttributeRow
	var errRecords []model.ErrorRecord
	for i, tempRowID := range order {
		res := results[i]
		products[tempRowID] = res.rows
		expanded = append(expanded, res.expanded...)
		errRecords = append(errRecords, res.errors...)
		counters.OK += res.counters.OK
		counters.Warn += res.counters.Warn
		counters.NG += res.counters.NG
	}

	demoted := 0
	for _, tempRowID := range order {
		demoted += e.reconcileProduct(products[tempRowID], &counters)
	}

	if err := e.persist(ctx, products, order, expanded); err != nil {
		return nil, err
	}

	if err := e.errs.Record(ctx, errRecords); err != nil {
		// Error-log failures do not fail the run; the rows themselves
		// already carry the quality outcome.
		e.logger.Warn("Failed to record cleansing errors",
			zap.String("batch_id", batchID),
			zap.Error(err))
	}

	e.verifyCounts(ctx, batchID, int64(len(rows)+len(expanded)))

	status := model.BatchStatusFor(counters)
	if err := e.batches.WriteStageStatus(ctx, batchID, model.StageCleanse, counters, status); err != nil {
		return nil, err
	}

	result := &RunResult{
		BatchID:      batchID,
		Status:       status,
		Counters:     counters,
		Products:     len(order),
		ExpandedRows: len(expanded),
		Demoted:      demoted,
		Duration:     time.Since(start),
	}

	e.logger.Info("Cleansing run complete",
		zap.String("batch_id", batchID),
		zap.String("status", string(status)),
		zap.Int64("read", counters.Read),
		zap.Int64("ok", counters.OK),
		zap.Int64("warn", counters.Warn),
		zap.Int64("ng", counters.NG),
		zap.Int("expanded", result.ExpandedRows),
		zap.Int("demoted", result.Demoted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// productResult is the outcome of processing one product.
type productResult struct {
	rows     []*model.AttributeRow
	expanded []*model.AttributeRow
	errors   []model.ErrorRecord
	counters model.StageCounters
}

// processProduct resolves every attribute candidate of one product in
// phase order, threading the resolved brand/category scope through to
// later-phase attributes.
func (e *Engine) processProduct(rows []*model.AttributeRow) productResult {
	e.sortByPhase(rows)

	maxSeq := make(map[string]int)
	for _, row := range rows {
		if row.AttrSeq > maxSeq[row.AttrCd] {
			maxSeq[row.AttrCd] = row.AttrSeq
		}
	}

	res := productResult{rows: rows}
	scope := model.Scope{}
	for _, row := range rows {
		extra, records := e.processAttribute(row, &scope, maxSeq)
		res.counters.Count(row.QualityStatus)
		for _, sibling := range extra {
			res.counters.Count(sibling.QualityStatus)
		}
		res.rows = append(res.rows, extra...)
		res.expanded = append(res.expanded, extra...)
		res.errors = append(res.errors, records...)
	}
	return res
}

// processAttribute resolves one candidate row. A panic is contained to
// the row: it becomes an NG outcome instead of killing the run.
func (e *Engine) processAttribute(row *model.AttributeRow, scope *model.Scope, maxSeq map[string]int) (extra []*model.AttributeRow, records []model.ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("recovered: %v", r)
			e.builder.Apply(row, model.QualityNG, []string{model.ReasonUnexpectedError}, detail)
			extra = nil
			records = []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonUnexpectedError, detail)}
			e.logger.Error("Recovered from panic while cleansing attribute",
				zap.String("temp_row_id", row.TempRowID),
				zap.String("attr_cd", row.AttrCd),
				zap.Any("panic", r))
		}
	}()

	def, ok := e.store.Definition(row.AttrCd)
	if !ok {
		e.builder.Apply(row, model.QualityWarn, []string{model.ReasonMissingAttrDefinition})
		return nil, []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonMissingAttrDefinition,
			fmt.Sprintf("no attribute definition for %s", row.AttrCd))}
	}

	// Early-phase attributes resolve against an empty scope so their
	// outcome cannot depend on sibling processing order.
	matchScope := model.Scope{}
	if def.ScopeAware() {
		matchScope = *scope
	}

	groupCompanyCd := e.store.GroupCompanyCd()
	pol, err := policy.Resolve(e.store.PoliciesFor(row.AttrCd, groupCompanyCd), matchScope)
	if err != nil {
		e.builder.Apply(row, model.QualityWarn, []string{model.ReasonNoMatchingPolicy})
		return nil, []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonMissingCleansePolicy,
			fmt.Sprintf("no applicable policy for %s", row.AttrCd))}
	}

	ruleVersion := e.store.RuleVersion(pol.RuleSetID)
	e.builder.Provenance(row, *pol, ruleVersion, groupCompanyCd)

	if !pol.MatcherKind.Valid() {
		detail := fmt.Sprintf("policy %d has unknown matcher kind %q", pol.ID, pol.MatcherKind)
		e.builder.Apply(row, model.QualityNG, []string{model.ReasonMissingMatchKind}, detail)
		return nil, []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonMissingMatchKind, detail)}
	}

	// Token-dictionary policies expand composites regardless of the
	// attribute's declared data type. Route selection sees the same gated
	// scope as policy resolution.
	if pol.MatcherKind == model.MatcherTokenDict {
		extra, records = e.expandTokens(row, *pol, ruleVersion, groupCompanyCd, matchScope, maxSeq)
	} else {
		switch pol.DataType {
		case model.DataTypeRef:
			records = e.resolveReference(row, *pol)
		case model.DataTypeList:
			records = e.resolveList(row, *pol, groupCompanyCd)
		default:
			records = e.normalizeValue(row, *pol)
		}
	}

	e.updateScope(row, scope)
	return extra, records
}

// resolveReference runs a one- or two-hop reference table lookup.
func (e *Engine) resolveReference(row *model.AttributeRow, pol model.CleansePolicy) []model.ErrorRecord {
	var m model.ReferenceTableMap
	var ok bool
	if pol.RefMapID.Valid {
		m, ok = e.store.RefMap(pol.RefMapID.Int64)
	}
	if !ok {
		if legacy, found := e.store.RefMapByAttr(row.AttrCd); found {
			m, ok = legacy, true
			e.logger.Warn("Policy has no usable ref_map_id; resolved reference map by attribute code",
				zap.Int64("policy_id", pol.ID),
				zap.String("attr_cd", row.AttrCd))
		}
	}
	if !ok {
		e.builder.Apply(row, model.QualityNG, []string{model.ReasonRefTableMapNotFound})
		return []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonRefTableMapNotFound,
			fmt.Sprintf("no reference table map for %s", row.AttrCd))}
	}

	code, label, found := e.refs.Resolve(m, row.SourceID, row.SourceLabel)
	if !found {
		e.builder.Apply(row, model.QualityWarn, []string{model.ReasonRefNotFound})
		return []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonRefNotFound,
			fmt.Sprintf("no reference entry for id=%q label=%q", row.SourceID, row.SourceLabel))}
	}

	row.SetCode(code, label)
	e.builder.Apply(row, model.QualityOK, nil)
	return nil
}

// resolveList maps the candidate onto a controlled-vocabulary item.
func (e *Engine) resolveList(row *model.AttributeRow, pol model.CleansePolicy, groupCompanyCd string) []model.ErrorRecord {
	item, mapped := e.lists.Resolve(pol, groupCompanyCd, row.SourceID, row.SourceLabel)
	if !mapped {
		e.builder.Apply(row, model.QualityNG, []string{model.ReasonListGroupNotFound})
		return []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonListGroupNotFound,
			fmt.Sprintf("no list mapping for id=%q label=%q", row.SourceID, row.SourceLabel))}
	}
	if item == nil {
		detail := fmt.Sprintf("list mapping for %s points at a missing vocabulary item", row.AttrCd)
		e.builder.Apply(row, model.QualityWarn, []string{model.ReasonListGroupNotFound}, detail)
		return []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonListGroupNotFound, detail)}
	}

	row.SetCode(item.Code, item.Label)
	e.builder.Apply(row, model.QualityOK, nil)
	return nil
}

// normalizeValue canonicalizes text, numeric, boolean and timestamp
// values in place.
func (e *Engine) normalizeValue(row *model.AttributeRow, pol model.CleansePolicy) []model.ErrorRecord {
	value, err := normalize.Normalize(pol.DataType, row.RawInput(), e.opts.DatePattern)
	switch {
	case errors.Is(err, normalize.ErrBlankSource):
		e.builder.Apply(row, model.QualityNG, []string{model.ReasonSourceRawNotFound})
		return []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonSourceRawNotFound,
			"source value is blank")}
	case err != nil:
		e.builder.Apply(row, model.QualityNG, []string{model.ReasonInvalidTypeCast}, err.Error())
		return []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonInvalidTypeCast, err.Error())}
	}

	value.Apply(row)
	e.builder.Apply(row, model.QualityOK, nil)
	return nil
}

// expandTokens splits a composite value through the token dictionary.
// The first match lands on the input row; every further match becomes a
// sibling row with the next free sequence number. Panics in the token
// path are contained as a process-exception outcome on the input row.
func (e *Engine) expandTokens(row *model.AttributeRow, pol model.CleansePolicy, ruleVersion, groupCompanyCd string, scope model.Scope, maxSeq map[string]int) (extra []*model.AttributeRow, records []model.ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("recovered: %v", r)
			e.builder.Apply(row, model.QualityNG, []string{model.ReasonColorProcessException}, detail)
			extra = nil
			records = []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonColorProcessException, detail)}
			e.logger.Error("Recovered from panic during token expansion",
				zap.String("temp_row_id", row.TempRowID),
				zap.String("attr_cd", row.AttrCd),
				zap.Any("panic", r))
		}
	}()

	raw := row.RawInput()
	if strings.TrimSpace(raw) == "" {
		e.builder.Apply(row, model.QualityNG, []string{model.ReasonSourceRawNotFound})
		return nil, []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonSourceRawNotFound,
			"composite source value is blank")}
	}

	expansion := e.tokens.Expand(groupCompanyCd, scope, raw)
	if len(expansion.Matches) == 0 {
		detail := fmt.Sprintf("no token matched in %q", raw)
		e.builder.Apply(row, model.QualityWarn, []string{model.ReasonColorOutputEmpty}, detail)
		return nil, []model.ErrorRecord{e.builder.ErrorRecord(row, model.ReasonColorOutputEmpty, detail)}
	}

	var messages []string
	if len(expansion.Unmatched) > 0 {
		messages = append(messages, fmt.Sprintf("unmatched tokens: %s", strings.Join(expansion.Unmatched, ", ")))
	}

	first := expansion.Matches[0]
	row.SetCode(first.ValueCd, first.ValueText)
	e.builder.Apply(row, model.QualityOK, nil, messages...)

	for i, match := range expansion.Matches[1:] {
		sibling := &model.AttributeRow{
			BatchID:     row.BatchID,
			TempRowID:   row.TempRowID,
			AttrCd:      row.AttrCd,
			AttrSeq:     maxSeq[row.AttrCd] + i + 1,
			SourceID:    row.SourceID,
			SourceLabel: row.SourceLabel,
			SourceRaw:   row.SourceRaw,
		}
		sibling.SetCode(match.ValueCd, match.ValueText)
		e.builder.Provenance(sibling, pol, ruleVersion, groupCompanyCd)
		e.builder.Apply(sibling, model.QualityOK, nil, messages...)
		extra = append(extra, sibling)
	}
	maxSeq[row.AttrCd] += len(expansion.Matches) - 1

	return extra, records
}

// updateScope publishes a successfully resolved brand or category code
// into the product's scope for later-phase attributes.
func (e *Engine) updateScope(row *model.AttributeRow, scope *model.Scope) {
	if row.QualityStatus != model.QualityOK {
		return
	}
	code := row.ResolvedCode()
	if code == "" {
		return
	}

	switch row.AttrCd {
	case model.AttrBrand:
		*scope = scope.WithBrand(code)
	case model.AttrCategory1:
		*scope = scope.WithCategory(code)
	}
}

// persist writes every processed row back: point updates for loaded rows
// and inserts for rows created by token expansion.
func (e *Engine) persist(ctx context.Context, products map[string][]*model.AttributeRow, order []string, expanded []*model.AttributeRow) error {
	inserted := make(map[*model.AttributeRow]bool, len(expanded))
	for _, row := range expanded {
		inserted[row] = true
	}

	for _, tempRowID := range order {
		for _, row := range products[tempRowID] {
			if inserted[row] {
				continue
			}
			if err := e.rows.SaveRow(ctx, row); err != nil {
				return err
			}
		}
	}

	return e.rows.InsertRows(ctx, expanded)
}

// verifyCounts compares the stored row count against what this run
// processed; a mismatch is logged, not fatal, since other writers may
// touch the batch.
func (e *Engine) verifyCounts(ctx context.Context, batchID string, processed int64) {
	stored, err := e.rows.CountRows(ctx, batchID)
	if err != nil {
		e.logger.Warn("Failed to verify row counts",
			zap.String("batch_id", batchID),
			zap.Error(err))
		return
	}
	if stored != processed {
		e.logger.Warn("Row count mismatch after cleansing",
			zap.String("batch_id", batchID),
			zap.Int64("processed", processed),
			zap.Int64("stored", stored))
	}
}

// sortByPhase orders a product's rows for processing: definition phase
// first (undefined last), then attribute code and sequence for a stable,
// deterministic walk.
func (e *Engine) sortByPhase(rows []*model.AttributeRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		pi, pj := e.phaseOf(rows[i]), e.phaseOf(rows[j])
		if pi != pj {
			return pi < pj
		}
		if rows[i].AttrCd != rows[j].AttrCd {
			return rows[i].AttrCd < rows[j].AttrCd
		}
		return rows[i].AttrSeq < rows[j].AttrSeq
	})
}

// phaseOf returns the ordering key of a row's attribute; rows without a
// definition sort last and fail with MISSING_ATTR_DEFINITION anyway.
func (e *Engine) phaseOf(row *model.AttributeRow) int {
	if def, ok := e.store.Definition(row.AttrCd); ok {
		return def.PhaseKey()
	}
	return int(^uint(0) >> 1)
}

// groupByProduct splits the batch's rows by temp_row_id, preserving the
// load order of first appearance.
func groupByProduct(rows []*model.AttributeRow) (map[string][]*model.AttributeRow, []string) {
	products := make(map[string][]*model.AttributeRow)
	var order []string
	for _, row := range rows {
		if _, seen := products[row.TempRowID]; !seen {
			order = append(order, row.TempRowID)
		}
		products[row.TempRowID] = append(products[row.TempRowID], row)
	}
	return products, order
}
