// pkg/resolver/reference.go
// Package resolver turns raw id/label pairs into canonical values via
// reference tables, controlled vocabularies and token dictionaries.
package resolver

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/model"
	"github.com/cataloghub/feed-cleanse/pkg/refdata"
)

// Reference performs one- or two-hop lookups against cached external
// reference tables.
type Reference struct {
	store  *refdata.Store
	logger *zap.Logger
}

// NewReference creates a reference resolver over the run's cache.
func NewReference(store *refdata.Store, logger *zap.Logger) (*Reference, error) {
	if store == nil {
		return nil, errors.New("reference data store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Reference{store: store, logger: logger}, nil
}

// Resolve runs the lookup described by the map: hop 1 matches the source
// id or label against the configured column; when a second hop is
// declared, the carried join column selects the hop-2 row and the final
// code/label come from there. Returns found=false when either hop yields
// nothing or the result is empty.
func (r *Reference) Resolve(m model.ReferenceTableMap, sourceID, sourceLabel string) (code, label string, found bool) {
	hop1 := r.matchHop1(m, sourceID, sourceLabel)
	if hop1 == nil {
		return "", "", false
	}

	if m.HasHop2() {
		joinValue := hop1[m.Hop1JoinCol]
		if joinValue == "" {
			r.logger.Debug("Reference hop1 row has empty join value",
				zap.String("table", m.Hop1Table),
				zap.String("join_col", m.Hop1JoinCol))
			return "", "", false
		}

		hop2 := r.matchByColumn(m.Hop2Table, m.Hop2JoinCol, joinValue, false)
		if hop2 == nil {
			return "", "", false
		}

		code = hop2[m.Hop2CodeCol]
		label = hop2[m.Hop2LabelCol]
	} else {
		code = hop1[m.Hop1CodeCol]
		label = hop1[m.Hop1OutLabelCol]
	}

	if code == "" && label == "" {
		return "", "", false
	}
	return code, label, true
}

// matchHop1 finds the first hop-1 row matching the source value per the
// map's match strategy.
func (r *Reference) matchHop1(m model.ReferenceTableMap, sourceID, sourceLabel string) refdata.RefRow {
	switch m.Hop1MatchBy {
	case model.MatchByLabel:
		return r.matchByColumn(m.Hop1Table, m.Hop1LabelCol, sourceLabel, true)
	default:
		// Id matches are exact; labels fold case.
		return r.matchByColumn(m.Hop1Table, m.Hop1IDCol, sourceID, false)
	}
}

// matchByColumn scans a cached table for the first row whose column
// equals the wanted value.
func (r *Reference) matchByColumn(table, column, want string, foldCase bool) refdata.RefRow {
	if column == "" || want == "" {
		return nil
	}

	for _, row := range r.store.RefRows(table) {
		got := row[column]
		if got == "" {
			continue
		}
		if got == want || (foldCase && strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want))) {
			return row
		}
	}
	return nil
}
