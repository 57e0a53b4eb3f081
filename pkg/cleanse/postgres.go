// pkg/cleanse/postgres.go
package cleanse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/model"
)

const storeTimeout = 30 * time.Second

// candidateRecord is the scan/exec shape of an attribute row: the row's
// columns plus the serialized JSON audit documents.
type candidateRecord struct {
	model.AttributeRow
	QualityDetailJSON string `db:"quality_detail_json"`
	ProvenanceJSON    string `db:"provenance_json"`
}

// PostgresRowStore persists attribute candidate rows in the staging
// database's ingest_attr_candidate table.
type PostgresRowStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresRowStore creates a row store over the staging database.
func NewPostgresRowStore(db *sqlx.DB, logger *zap.Logger) (*PostgresRowStore, error) {
	if db == nil {
		return nil, errors.New("database handle cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &PostgresRowStore{db: db, logger: logger}, nil
}

const candidateColumns = `
	batch_id, temp_row_id, attr_cd, attr_seq,
	COALESCE(source_id, '') AS source_id,
	COALESCE(source_label, '') AS source_label,
	COALESCE(source_raw, '') AS source_raw,
	value_cd, value_text, value_num, value_date,
	COALESCE(quality_status, '') AS quality_status,
	COALESCE(rule_version, '') AS rule_version,
	COALESCE(updated_at, 'epoch'::timestamptz) AS updated_at,
	COALESCE(quality_detail_json, 'null'::jsonb)::text AS quality_detail_json,
	COALESCE(provenance_json, 'null'::jsonb)::text AS provenance_json`

// LoadCandidates reads every candidate row of the batch in stable
// product order.
func (s *PostgresRowStore) LoadCandidates(ctx context.Context, batchID string) ([]*model.AttributeRow, error) {
	queryCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM ingest_attr_candidate
		WHERE batch_id = $1
		ORDER BY temp_row_id, attr_cd, attr_seq`, candidateColumns)

	var records []candidateRecord
	if err := s.db.SelectContext(queryCtx, &records, query, batchID); err != nil {
		return nil, fmt.Errorf("failed to load candidate rows for batch %s: %w", batchID, err)
	}

	rows := make([]*model.AttributeRow, 0, len(records))
	for i := range records {
		row := records[i].AttributeRow
		if err := hydrateAudit(&row, records[i].QualityDetailJSON, records[i].ProvenanceJSON); err != nil {
			return nil, fmt.Errorf("failed to decode audit documents for row %s/%s: %w",
				row.TempRowID, row.AttrCd, err)
		}
		rows = append(rows, &row)
	}

	s.logger.Info("Loaded candidate rows",
		zap.String("batch_id", batchID),
		zap.Int("rows", len(rows)))
	return rows, nil
}

// SaveRow writes the resolution outputs of one existing row. The source
// columns are never touched.
func (s *PostgresRowStore) SaveRow(ctx context.Context, row *model.AttributeRow) error {
	record, err := toRecord(row)
	if err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	result, err := s.db.NamedExecContext(queryCtx, `
		UPDATE ingest_attr_candidate SET
			value_cd = :value_cd,
			value_text = :value_text,
			value_num = :value_num,
			value_date = :value_date,
			quality_status = :quality_status,
			rule_version = :rule_version,
			quality_detail_json = CAST(:quality_detail_json AS jsonb),
			provenance_json = CAST(:provenance_json AS jsonb),
			updated_at = :updated_at
		WHERE batch_id = :batch_id
		  AND temp_row_id = :temp_row_id
		  AND attr_cd = :attr_cd
		  AND attr_seq = :attr_seq`, record)
	if err != nil {
		return fmt.Errorf("failed to save row %s/%s#%d: %w",
			row.TempRowID, row.AttrCd, row.AttrSeq, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check save result: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("row %s/%s#%d not found in batch %s",
			row.TempRowID, row.AttrCd, row.AttrSeq, row.BatchID)
	}
	return nil
}

// InsertRows persists rows created by token expansion.
func (s *PostgresRowStore) InsertRows(ctx context.Context, rows []*model.AttributeRow) error {
	if len(rows) == 0 {
		return nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	for _, row := range rows {
		record, err := toRecord(row)
		if err != nil {
			return err
		}

		_, err = s.db.NamedExecContext(queryCtx, `
			INSERT INTO ingest_attr_candidate (
				batch_id, temp_row_id, attr_cd, attr_seq,
				source_id, source_label, source_raw,
				value_cd, value_text, value_num, value_date,
				quality_status, rule_version,
				quality_detail_json, provenance_json, updated_at
			) VALUES (
				:batch_id, :temp_row_id, :attr_cd, :attr_seq,
				:source_id, :source_label, :source_raw,
				:value_cd, :value_text, :value_num, :value_date,
				:quality_status, :rule_version,
				CAST(:quality_detail_json AS jsonb), CAST(:provenance_json AS jsonb), :updated_at
			)`, record)
		if err != nil {
			return fmt.Errorf("failed to insert expanded row %s/%s#%d: %w",
				row.TempRowID, row.AttrCd, row.AttrSeq, err)
		}
	}

	s.logger.Debug("Inserted expanded rows", zap.Int("rows", len(rows)))
	return nil
}

// CountRows returns the number of candidate rows stored for a batch.
func (s *PostgresRowStore) CountRows(ctx context.Context, batchID string) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var count int64
	err := s.db.GetContext(queryCtx, &count,
		"SELECT COUNT(*) FROM ingest_attr_candidate WHERE batch_id = $1", batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to count candidate rows for batch %s: %w", batchID, err)
	}
	return count, nil
}

// toRecord serializes the row's structured audit documents for storage.
func toRecord(row *model.AttributeRow) (candidateRecord, error) {
	record := candidateRecord{AttributeRow: *row}

	record.QualityDetailJSON = "null"
	record.ProvenanceJSON = "null"

	if row.QualityDetail != nil {
		doc, err := json.Marshal(row.QualityDetail)
		if err != nil {
			return candidateRecord{}, fmt.Errorf("failed to marshal quality detail: %w", err)
		}
		record.QualityDetailJSON = string(doc)
	}
	if len(row.Provenance) > 0 {
		doc, err := json.Marshal(row.Provenance)
		if err != nil {
			return candidateRecord{}, fmt.Errorf("failed to marshal provenance: %w", err)
		}
		record.ProvenanceJSON = string(doc)
	}
	return record, nil
}

// hydrateAudit decodes the stored JSON audit documents back into the
// row's structured fields. "null" documents leave the fields empty.
func hydrateAudit(row *model.AttributeRow, detail, provenance string) error {
	if detail != "" && detail != "null" {
		row.QualityDetail = &model.QualityDetail{}
		if err := json.Unmarshal([]byte(detail), row.QualityDetail); err != nil {
			return fmt.Errorf("invalid quality detail document: %w", err)
		}
	}
	if provenance != "" && provenance != "null" {
		if err := json.Unmarshal([]byte(provenance), &row.Provenance); err != nil {
			return fmt.Errorf("invalid provenance document: %w", err)
		}
	}
	return nil
}

// PostgresBatchStore writes stage outcomes into ingest_batch.
type PostgresBatchStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresBatchStore creates a batch store over the staging database.
func NewPostgresBatchStore(db *sqlx.DB, logger *zap.Logger) (*PostgresBatchStore, error) {
	if db == nil {
		return nil, errors.New("database handle cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &PostgresBatchStore{db: db, logger: logger}, nil
}

// WriteStageStatus stores the stage's counters under its key in the
// batch status document and sets the terminal batch status.
func (s *PostgresBatchStore) WriteStageStatus(ctx context.Context, batchID, stage string, counters model.StageCounters, status model.BatchStatus) error {
	doc, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to marshal stage counters: %w", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	result, err := s.db.ExecContext(queryCtx, `
		UPDATE ingest_batch SET
			status = $2,
			status_doc = jsonb_set(COALESCE(status_doc, '{}'::jsonb), ARRAY[$3], $4::jsonb, true),
			updated_at = NOW()
		WHERE batch_id = $1`,
		batchID, string(status), stage, string(doc))
	if err != nil {
		return fmt.Errorf("failed to write stage status for batch %s: %w", batchID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check stage status result: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("batch %s not found", batchID)
	}

	s.logger.Info("Wrote stage status",
		zap.String("batch_id", batchID),
		zap.String("stage", stage),
		zap.String("status", string(status)),
		zap.Int64("ok", counters.OK),
		zap.Int64("warn", counters.Warn),
		zap.Int64("ng", counters.NG))
	return nil
}

// PostgresErrorSink records cleansing errors in cleanse_error_log,
// creating the table on first use.
type PostgresErrorSink struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresErrorSink creates the sink and ensures the error-log table
// exists.
func NewPostgresErrorSink(db *sqlx.DB, logger *zap.Logger) (*PostgresErrorSink, error) {
	if db == nil {
		return nil, errors.New("database handle cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	sink := &PostgresErrorSink{db: db, logger: logger}
	if err := sink.setupErrorTable(); err != nil {
		return nil, fmt.Errorf("failed to setup error log table: %w", err)
	}
	return sink, nil
}

// setupErrorTable creates the error-log table if it does not exist.
func (s *PostgresErrorSink) setupErrorTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cleanse_error_log (
			error_id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			step TEXT NOT NULL,
			record_ref TEXT NOT NULL,
			error_cd TEXT NOT NULL,
			error_detail TEXT,
			raw_fragment TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create cleanse_error_log: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_cleanse_error_log_batch
		ON cleanse_error_log (batch_id, error_cd)`)
	if err != nil {
		return fmt.Errorf("failed to create cleanse_error_log index: %w", err)
	}
	return nil
}

// Record inserts the error records in one transaction.
func (s *PostgresErrorSink) Record(ctx context.Context, records []model.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(queryCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin error log transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		_, err := tx.NamedExecContext(queryCtx, `
			INSERT INTO cleanse_error_log (
				error_id, batch_id, step, record_ref,
				error_cd, error_detail, raw_fragment, created_at
			) VALUES (
				:error_id, :batch_id, :step, :record_ref,
				:error_cd, :error_detail, :raw_fragment, :created_at
			)`, record)
		if err != nil {
			return fmt.Errorf("failed to insert error record %s: %w", record.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit error records: %w", err)
	}

	s.logger.Debug("Recorded cleansing errors", zap.Int("records", len(records)))
	return nil
}
