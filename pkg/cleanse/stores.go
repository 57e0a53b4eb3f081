// pkg/cleanse/stores.go
package cleanse

import (
	"context"

	"github.com/cataloghub/feed-cleanse/pkg/model"
)

// RowStore reads and persists attribute candidate rows. Saves are point
// writes; there is no transactional grouping across a product or batch.
type RowStore interface {
	// LoadCandidates returns every candidate row of a batch.
	LoadCandidates(ctx context.Context, batchID string) ([]*model.AttributeRow, error)

	// SaveRow persists the resolution outputs of one existing row.
	SaveRow(ctx context.Context, row *model.AttributeRow) error

	// InsertRows persists rows created by token expansion.
	InsertRows(ctx context.Context, rows []*model.AttributeRow) error

	// CountRows returns the number of candidate rows stored for a batch.
	CountRows(ctx context.Context, batchID string) (int64, error)
}

// BatchStore writes the per-stage counters and terminal status into the
// batch's status document.
type BatchStore interface {
	WriteStageStatus(ctx context.Context, batchID, stage string, counters model.StageCounters, status model.BatchStatus) error
}

// ErrorSink receives the error records emitted for WARN/NG outcomes.
type ErrorSink interface {
	Record(ctx context.Context, records []model.ErrorRecord) error
}
