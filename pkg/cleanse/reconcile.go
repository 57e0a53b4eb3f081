// pkg/cleanse/reconcile.go
package cleanse

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/model"
)

// reconcileProduct enforces single-valuedness: when a SINGLE-select
// attribute ends the run with multiple candidate rows, the best one
// keeps its values and every other row is demoted to WARN with its
// values cleared. Returns the number of demoted rows; counters are
// adjusted in place since the rows were already counted.
func (e *Engine) reconcileProduct(rows []*model.AttributeRow, counters *model.StageCounters) int {
	byAttr := make(map[string][]*model.AttributeRow)
	var attrOrder []string
	for _, row := range rows {
		if _, seen := byAttr[row.AttrCd]; !seen {
			attrOrder = append(attrOrder, row.AttrCd)
		}
		byAttr[row.AttrCd] = append(byAttr[row.AttrCd], row)
	}

	demoted := 0
	for _, attrCd := range attrOrder {
		group := byAttr[attrCd]
		if len(group) < 2 {
			continue
		}
		def, ok := e.store.Definition(attrCd)
		if !ok || def.SelectType != model.SelectTypeSingle {
			continue
		}

		sort.SliceStable(group, func(i, j int) bool {
			return betterCandidate(group[i], group[j])
		})

		winner := group[0]
		for _, loser := range group[1:] {
			previous := loser.QualityStatus
			loser.ClearValues()
			e.builder.Apply(loser, model.QualityWarn, []string{},
				fmt.Sprintf("superseded by candidate #%d of single-valued %s", winner.AttrSeq, attrCd))
			counters.Move(previous, model.QualityWarn)
			demoted++
		}

		e.logger.Debug("Reconciled single-valued attribute",
			zap.String("temp_row_id", winner.TempRowID),
			zap.String("attr_cd", attrCd),
			zap.Int("demoted", len(group)-1))
	}
	return demoted
}

// betterCandidate orders rows for reconciliation: better quality status
// first, then the lower policy step, then the most recent update, then
// the lowest sequence number as the final deterministic tie-break.
func betterCandidate(a, b *model.AttributeRow) bool {
	if ar, br := a.QualityStatus.Rank(), b.QualityStatus.Rank(); ar != br {
		return ar < br
	}
	if ak, bk := stepKey(a), stepKey(b); ak != bk {
		return ak < bk
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.AttrSeq < b.AttrSeq
}

// stepKey mirrors policy step ordering: unset steps sort last.
func stepKey(row *model.AttributeRow) int {
	if row.StepNo <= 0 {
		return int(^uint(0) >> 1)
	}
	return row.StepNo
}
