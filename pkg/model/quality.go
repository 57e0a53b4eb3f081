// pkg/model/quality.go
package model

// QualityDetail is the structured quality document attached to a row. It
// serializes to the quality_detail_json column.
type QualityDetail struct {
	Result    QualityStatus `json:"result"`
	ReasonCds []string      `json:"reason_cds"`
	Messages  []string      `json:"messages,omitempty"`
	Evidence  Evidence      `json:"evidence"`
}

// Evidence captures the input and outputs backing a quality decision.
type Evidence struct {
	SourceRaw string  `json:"source_raw"`
	ValueText *string `json:"value_text,omitempty"`
	ValueNum  *string `json:"value_num,omitempty"`
	ValueDate *string `json:"value_date,omitempty"`
	ValueCd   *string `json:"value_cd,omitempty"`
}

// ProvenanceEntry is one append-only audit record. The provenance_json
// column holds the ordered array of these.
type ProvenanceEntry struct {
	Stage string          `json:"stage"`
	Rule  ProvenanceRule  `json:"rule"`
	Input ProvenanceInput `json:"input"`
	Audit ProvenanceAudit `json:"audit"`
}

// ProvenanceRule identifies the policy that produced a value.
type ProvenanceRule struct {
	RuleSetID   int64       `json:"rule_set_id"`
	RuleVersion string      `json:"rule_version"`
	PolicyID    int64       `json:"policy_id"`
	AttrCd      string      `json:"attr_cd"`
	MatcherKind MatcherKind `json:"matcher_kind"`
	StepNo      int         `json:"step_no"`
}

// ProvenanceInput records what the rule was applied to.
type ProvenanceInput struct {
	SourceRaw string            `json:"source_raw"`
	Context   ProvenanceContext `json:"context"`
}

// ProvenanceContext carries the scoping inputs of the resolution.
type ProvenanceContext struct {
	GroupCompanyCd string `json:"group_company_cd"`
}

// ProvenanceAudit records where and when the rule ran.
type ProvenanceAudit struct {
	BatchID   string `json:"batch_id"`
	TempRowID string `json:"temp_row_id"`
	RunAt     string `json:"run_at"`
	WorkerID  string `json:"worker_id"`
}
