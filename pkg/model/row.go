// pkg/model/row.go
package model

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Scope is the brand/category context resolved within a single product.
// Nil means the dimension is not yet known.
type Scope struct {
	Brand    *string
	Category *string
}

// WithBrand returns a copy of the scope with the brand dimension set.
func (s Scope) WithBrand(brand string) Scope {
	s.Brand = &brand
	return s
}

// WithCategory returns a copy of the scope with the category dimension set.
func (s Scope) WithCategory(category string) Scope {
	s.Category = &category
	return s
}

// AttributeRow is one raw attribute candidate: the unit of work of the
// cleansing engine. (batch_id, temp_row_id, attr_cd, attr_seq) is the
// identity tuple. Rows are created by ingestion with the resolution
// fields empty and mutated in place here.
type AttributeRow struct {
	BatchID   string `db:"batch_id"`
	TempRowID string `db:"temp_row_id"`
	AttrCd    string `db:"attr_cd"`
	AttrSeq   int    `db:"attr_seq"`

	SourceID    string `db:"source_id"`
	SourceLabel string `db:"source_label"`
	SourceRaw   string `db:"source_raw"`

	ValueCd   sql.NullString      `db:"value_cd"`
	ValueText sql.NullString      `db:"value_text"`
	ValueNum  decimal.NullDecimal `db:"value_num"`
	ValueDate sql.NullString      `db:"value_date"`

	QualityStatus QualityStatus `db:"quality_status"`
	RuleVersion   string        `db:"rule_version"`
	UpdatedAt     time.Time     `db:"updated_at"`

	// Structured forms of the JSON audit columns. Kept as ordered records
	// in memory; serialized to single documents only at the persistence
	// boundary.
	QualityDetail *QualityDetail    `db:"-"`
	Provenance    []ProvenanceEntry `db:"-"`

	// StepNo of the policy that processed this row; used by the
	// single-value reconciler as a tie-break. Not persisted.
	StepNo int `db:"-"`
}

// SetCode assigns the resolved canonical code/label pair.
func (r *AttributeRow) SetCode(code, label string) {
	r.ValueCd = sql.NullString{String: code, Valid: code != ""}
	r.ValueText = sql.NullString{String: label, Valid: label != ""}
}

// ClearValues wipes the resolved code/label, used when a row is demoted.
func (r *AttributeRow) ClearValues() {
	r.ValueCd = sql.NullString{}
	r.ValueText = sql.NullString{}
}

// ResolvedCode returns the resolved code, or "" when unset.
func (r *AttributeRow) ResolvedCode() string {
	if r.ValueCd.Valid {
		return r.ValueCd.String
	}
	return ""
}

// RawInput returns source_raw, falling back to source_label when the raw
// column is blank.
func (r *AttributeRow) RawInput() string {
	if r.SourceRaw != "" {
		return r.SourceRaw
	}
	return r.SourceLabel
}

// StageCounters aggregates per-batch outcomes for one pipeline stage.
type StageCounters struct {
	Read int64 `json:"read"`
	OK   int64 `json:"ok"`
	Warn int64 `json:"warn"`
	NG   int64 `json:"ng"`
}

// Count increments the counter matching a terminal quality status.
func (c *StageCounters) Count(status QualityStatus) {
	switch status {
	case QualityOK:
		c.OK++
	case QualityWarn:
		c.Warn++
	case QualityNG:
		c.NG++
	}
}

// Move shifts one row from its previous status bucket to a new one,
// used when reconciliation demotes an already-counted row.
func (c *StageCounters) Move(from, to QualityStatus) {
	switch from {
	case QualityOK:
		c.OK--
	case QualityWarn:
		c.Warn--
	case QualityNG:
		c.NG--
	}
	c.Count(to)
}

// ErrorRecord is emitted to the error-log collaborator for every WARN/NG
// outcome.
type ErrorRecord struct {
	ID          string    `db:"error_id"`
	BatchID     string    `db:"batch_id"`
	Step        string    `db:"step"`
	RecordRef   string    `db:"record_ref"`
	ErrorCd     string    `db:"error_cd"`
	ErrorDetail string    `db:"error_detail"`
	RawFragment string    `db:"raw_fragment"`
	CreatedAt   time.Time `db:"created_at"`
}
