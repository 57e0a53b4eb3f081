// pkg/model/enums.go
package model

import "fmt"

// DataType classifies how an attribute value is resolved.
type DataType string

const (
	DataTypeText        DataType = "TEXT"
	DataTypeNum         DataType = "NUM"
	DataTypeTimestampTZ DataType = "TIMESTAMPTZ"
	DataTypeList        DataType = "LIST"
	DataTypeRef         DataType = "REF"
	DataTypeBool        DataType = "BOOL"
)

// Valid reports whether the data type is one of the known kinds.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeText, DataTypeNum, DataTypeTimestampTZ, DataTypeList, DataTypeRef, DataTypeBool:
		return true
	default:
		return false
	}
}

// SelectType marks an attribute as single- or multi-valued.
type SelectType string

const (
	SelectTypeSingle SelectType = "SINGLE"
	SelectTypeMulti  SelectType = "MULTI"
)

// MatcherKind identifies the resolution strategy a policy applies.
type MatcherKind string

const (
	MatcherIDExact        MatcherKind = "ID_EXACT"
	MatcherLabelExact     MatcherKind = "LABEL_EXACT"
	MatcherDeriveCoalesce MatcherKind = "DERIVE_COALESCE"
	MatcherDeriveFromGP   MatcherKind = "DERIVE_FROM_GP"
	MatcherTokenDict      MatcherKind = "TOKEN_DICT"
)

// Valid reports whether the matcher kind is one of the known strategies.
func (m MatcherKind) Valid() bool {
	switch m {
	case MatcherIDExact, MatcherLabelExact, MatcherDeriveCoalesce, MatcherDeriveFromGP, MatcherTokenDict:
		return true
	default:
		return false
	}
}

// QualityStatus is the terminal classification of a resolved attribute value.
type QualityStatus string

const (
	QualityOK   QualityStatus = "OK"
	QualityWarn QualityStatus = "WARN"
	QualityNG   QualityStatus = "NG"
)

// Rank orders statuses for reconciliation: lower is better.
func (q QualityStatus) Rank() int {
	switch q {
	case QualityOK:
		return 0
	case QualityWarn:
		return 1
	case QualityNG:
		return 2
	default:
		return 3
	}
}

// BatchStatus is the terminal status of a cleansing run.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "SUCCESS"
	BatchPartial BatchStatus = "PARTIAL"
	BatchFailed  BatchStatus = "FAILED"
)

// Reason codes attached to quality details and error records.
const (
	ReasonMissingAttrDefinition = "MISSING_ATTR_DEFINITION"
	ReasonMissingCleansePolicy  = "MISSING_CLEANSE_POLICY"
	ReasonNoMatchingPolicy      = "NO_MATCHING_POLICY"
	ReasonRefTableMapNotFound   = "REF_TABLE_MAP_NOT_FOUND"
	ReasonRefNotFound           = "REF_NOT_FOUND"
	ReasonListGroupNotFound     = "LIST_GROUP_NOT_FOUND"
	ReasonSourceRawNotFound     = "SOURCE_RAW_NOT_FOUND"
	ReasonInvalidTypeCast       = "INVALID_TYPE_CAST"
	ReasonMissingMatchKind      = "MISSING_MATCH_KIND"
	ReasonColorOutputEmpty      = "COLOR_OUTPUT_EMPTY"
	ReasonColorProcessException = "COLOR_PROCESS_EXCEPTION"

	// ReasonUnexpectedError covers non-taxonomy failures recovered at the
	// per-attribute boundary; the raw error message goes into the detail.
	ReasonUnexpectedError = "UNEXPECTED_ERROR"
)

// StageCleanse is the pipeline stage key this engine writes under.
const StageCleanse = "CLEANSE"

// Attribute codes with orchestration significance: once resolved they
// unlock scoped policies for later-phase attributes of the same product.
const (
	AttrBrand     = "BRAND"
	AttrCategory1 = "CATEGORY_1"
)

// BatchStatusFor derives the terminal batch status from stage counters.
func BatchStatusFor(c StageCounters) BatchStatus {
	switch {
	case c.Warn == 0 && c.NG == 0:
		return BatchSuccess
	case c.OK > 0:
		return BatchPartial
	default:
		return BatchFailed
	}
}

// String implements fmt.Stringer for diagnostics.
func (q QualityStatus) String() string { return string(q) }

// String implements fmt.Stringer for diagnostics.
func (b BatchStatus) String() string { return string(b) }

// ParseQualityStatus converts a stored status string back to the enum.
func ParseQualityStatus(s string) (QualityStatus, error) {
	switch QualityStatus(s) {
	case QualityOK, QualityWarn, QualityNG:
		return QualityStatus(s), nil
	default:
		return "", fmt.Errorf("unknown quality status %q", s)
	}
}
