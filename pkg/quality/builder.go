// pkg/quality/builder.go
// Package quality attaches the structured audit trail to resolved rows:
// quality details, provenance entries and error records.
package quality

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cataloghub/feed-cleanse/pkg/model"
)

// runAtFormat is the audit timestamp layout (UTC, second precision).
const runAtFormat = "2006-01-02T15:04:05Z"

// Builder stamps rows with quality and provenance records for one run.
type Builder struct {
	workerID string
	now      func() time.Time
}

// NewBuilder creates a builder identified by workerID in audit records.
func NewBuilder(workerID string) (*Builder, error) {
	if workerID == "" {
		return nil, errors.New("worker id cannot be empty")
	}
	return &Builder{
		workerID: workerID,
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source; used by tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Apply sets the row's terminal quality status and rebuilds its quality
// detail from the current value fields.
func (b *Builder) Apply(row *model.AttributeRow, status model.QualityStatus, reasonCds []string, messages ...string) {
	row.QualityStatus = status
	row.UpdatedAt = b.now().UTC()

	detail := &model.QualityDetail{
		Result:    status,
		ReasonCds: reasonCds,
		Messages:  messages,
		Evidence:  evidenceFor(row),
	}
	if detail.ReasonCds == nil {
		detail.ReasonCds = []string{}
	}
	row.QualityDetail = detail
}

// Provenance appends one audit entry recording which policy processed the
// row, and stamps the row with the rule version.
func (b *Builder) Provenance(row *model.AttributeRow, pol model.CleansePolicy, ruleVersion, groupCompanyCd string) {
	row.RuleVersion = ruleVersion
	row.StepNo = pol.StepNo

	row.Provenance = append(row.Provenance, model.ProvenanceEntry{
		Stage: model.StageCleanse,
		Rule: model.ProvenanceRule{
			RuleSetID:   pol.RuleSetID,
			RuleVersion: ruleVersion,
			PolicyID:    pol.ID,
			AttrCd:      pol.AttrCd,
			MatcherKind: pol.MatcherKind,
			StepNo:      pol.StepNo,
		},
		Input: model.ProvenanceInput{
			SourceRaw: row.SourceRaw,
			Context: model.ProvenanceContext{
				GroupCompanyCd: groupCompanyCd,
			},
		},
		Audit: model.ProvenanceAudit{
			BatchID:   row.BatchID,
			TempRowID: row.TempRowID,
			RunAt:     b.now().UTC().Format(runAtFormat),
			WorkerID:  b.workerID,
		},
	})
}

// ErrorRecord builds the error-log entry for a WARN/NG outcome.
func (b *Builder) ErrorRecord(row *model.AttributeRow, errorCd, detail string) model.ErrorRecord {
	return model.ErrorRecord{
		ID:          uuid.New().String(),
		BatchID:     row.BatchID,
		Step:        model.StageCleanse,
		RecordRef:   recordRef(row),
		ErrorCd:     errorCd,
		ErrorDetail: detail,
		RawFragment: row.RawInput(),
		CreatedAt:   b.now().UTC(),
	}
}

// evidenceFor snapshots the row's input and outputs for the detail doc.
func evidenceFor(row *model.AttributeRow) model.Evidence {
	ev := model.Evidence{SourceRaw: row.SourceRaw}

	if row.ValueText.Valid {
		v := row.ValueText.String
		ev.ValueText = &v
	}
	if row.ValueNum.Valid {
		v := row.ValueNum.Decimal.String()
		ev.ValueNum = &v
	}
	if row.ValueDate.Valid {
		v := row.ValueDate.String
		ev.ValueDate = &v
	}
	if row.ValueCd.Valid {
		v := row.ValueCd.String
		ev.ValueCd = &v
	}

	return ev
}

// recordRef identifies the offending row in error records.
func recordRef(row *model.AttributeRow) string {
	return fmt.Sprintf("%s/%s#%d", row.TempRowID, row.AttrCd, row.AttrSeq)
}
