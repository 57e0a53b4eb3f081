// pkg/model/reference.go
package model

import (
	"database/sql"
	"strings"
)

// AttributeDefinition is the per-run-immutable description of one attribute.
type AttributeDefinition struct {
	ID           int64      `db:"attr_def_id"`
	AttrCd       string     `db:"attr_cd"`
	DataType     DataType   `db:"data_type"`
	SelectType   SelectType `db:"select_type"`
	CleansePhase int        `db:"cleanse_phase"` // 0 means undefined; sorts last
}

// PhaseKey returns the ordering key for cleansing: undefined phases sort
// after every defined phase.
func (d AttributeDefinition) PhaseKey() int {
	if d.CleansePhase <= 0 {
		return int(^uint(0) >> 1)
	}
	return d.CleansePhase
}

// ScopeAware reports whether policy resolution for this attribute may use
// the brand/category context resolved by earlier attributes. Attributes at
// phase 10 or below must resolve without sibling context.
func (d AttributeDefinition) ScopeAware() bool {
	return d.CleansePhase <= 0 || d.CleansePhase > 10
}

// CleansePolicy is one candidate rule for an attribute code.
type CleansePolicy struct {
	ID             int64         `db:"policy_id"`
	RuleSetID      int64         `db:"rule_set_id"`
	AttrCd         string        `db:"attr_cd"`
	GroupCompanyCd string        `db:"group_company_cd"`
	StepNo         int           `db:"step_no"` // 0 means unset; sorts last
	MatcherKind    MatcherKind   `db:"matcher_kind"`
	DataType       DataType      `db:"data_type"`
	RefMapID       sql.NullInt64 `db:"ref_map_id"`
	BrandScope     string        `db:"brand_scope"`
	CategoryScope  string        `db:"category_scope"`
	Active         bool          `db:"active"`
}

// IsCommon reports whether the policy is an unscoped fallback.
func (p CleansePolicy) IsCommon() bool {
	return p.BrandScope == "" && p.CategoryScope == ""
}

// StepKey returns the ordering key for candidate walking: unset step
// numbers sort last.
func (p CleansePolicy) StepKey() int {
	if p.StepNo <= 0 {
		return int(^uint(0) >> 1)
	}
	return p.StepNo
}

// MatchBy selects which hop-1 column a reference lookup matches against.
type MatchBy string

const (
	MatchByID    MatchBy = "ID"
	MatchByLabel MatchBy = "LABEL"
)

// ReferenceTableMap describes a one- or two-hop reference lookup.
type ReferenceTableMap struct {
	ID           int64   `db:"ref_map_id"`
	AttrCd       string  `db:"attr_cd"`
	Hop1Table    string  `db:"hop1_table"`
	Hop1MatchBy  MatchBy `db:"hop1_match_by"`
	Hop1IDCol    string  `db:"hop1_id_col"`
	Hop1LabelCol string  `db:"hop1_label_col"`
	// Result columns when the lookup ends at hop 1.
	Hop1CodeCol     string `db:"hop1_code_col"`
	Hop1OutLabelCol string `db:"hop1_out_label_col"`
	// Join column carried from the hop-1 row into hop 2.
	Hop1JoinCol  string `db:"hop1_join_col"`
	Hop2Table    string `db:"hop2_table"`
	Hop2JoinCol  string `db:"hop2_join_col"`
	Hop2CodeCol  string `db:"hop2_code_col"`
	Hop2LabelCol string `db:"hop2_label_col"`
}

// HasHop2 reports whether the map chains into a second lookup table.
func (m ReferenceTableMap) HasHop2() bool {
	return m.Hop2Table != ""
}

// RuleSet groups policies under a versioned rule release.
type RuleSet struct {
	ID      int64  `db:"rule_set_id"`
	Name    string `db:"rule_set_name"`
	Version string `db:"rule_version"`
	Active  bool   `db:"active"`
}

// ListSourceMapping maps a raw source id/label pair onto a controlled
// vocabulary item for one attribute.
type ListSourceMapping struct {
	AttrCd         string `db:"attr_cd"`
	GroupCompanyCd string `db:"group_company_cd"`
	SourceID       string `db:"source_id"`
	SourceLabel    string `db:"source_label"`
	ItemID         string `db:"item_id"`
}

// ListItem is one controlled-vocabulary entry.
type ListItem struct {
	ItemID string `db:"item_id"`
	Code   string `db:"item_cd"`
	Label  string `db:"item_label"`
}

// TokenRoute maps one dictionary token onto a normalized value, optionally
// restricted to a group company, brand or category.
type TokenRoute struct {
	GroupCompanyCd string `db:"group_company_cd"`
	Brand          string `db:"brand_cd"`
	Category       string `db:"category_cd"`
	Token          string `db:"token"`
	ValueCd        string `db:"value_cd"`
	ValueText      string `db:"value_text"`
}

// Specificity ranks routes so that narrower scopes beat wider ones.
func (r TokenRoute) Specificity() int {
	n := 0
	if r.GroupCompanyCd != "" {
		n++
	}
	if r.Brand != "" {
		n++
	}
	if r.Category != "" {
		n++
	}
	return n
}

// AppliesTo reports whether the route is usable for the given group
// company and resolved scope. Empty route fields are wildcards.
func (r TokenRoute) AppliesTo(groupCompanyCd string, scope Scope) bool {
	if r.GroupCompanyCd != "" && !strings.EqualFold(r.GroupCompanyCd, groupCompanyCd) {
		return false
	}
	if r.Brand != "" && (scope.Brand == nil || !strings.EqualFold(r.Brand, *scope.Brand)) {
		return false
	}
	if r.Category != "" && (scope.Category == nil || !strings.EqualFold(r.Category, *scope.Category)) {
		return false
	}
	return true
}

// BatchMeta is the batch record the engine reads at start and updates at end.
type BatchMeta struct {
	BatchID        string `db:"batch_id"`
	GroupCompanyCd string `db:"group_company_cd"`
	Status         string `db:"status"`
}
