// pkg/refdata/sql_loader.go
package refdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/model"
)

// Reference tables are named by configuration rows; restrict identifiers
// before interpolating them into a query.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// SQLLoader implements Loader over the reference warehouse (rule and
// vocabulary tables) and the staging database (batch metadata).
type SQLLoader struct {
	warehouse *sqlx.DB
	staging   *sqlx.DB
	logger    *zap.Logger
}

// NewSQLLoader creates a loader over the two database handles.
func NewSQLLoader(warehouse, staging *sqlx.DB, logger *zap.Logger) (*SQLLoader, error) {
	if warehouse == nil {
		return nil, errors.New("warehouse handle cannot be nil")
	}
	if staging == nil {
		return nil, errors.New("staging handle cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &SQLLoader{
		warehouse: warehouse,
		staging:   staging,
		logger:    logger,
	}, nil
}

// Definitions loads all attribute definitions from the warehouse.
func (l *SQLLoader) Definitions(ctx context.Context) ([]model.AttributeDefinition, error) {
	var out []model.AttributeDefinition
	err := l.warehouse.SelectContext(ctx, &out, `
		SELECT attr_def_id,
		       attr_cd,
		       data_type,
		       select_type,
		       COALESCE(cleanse_phase, 0) AS cleanse_phase
		FROM cleanse_attribute_def
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attribute definitions: %w", err)
	}
	return out, nil
}

// Policies loads all active cleansing policies from the warehouse.
func (l *SQLLoader) Policies(ctx context.Context) ([]model.CleansePolicy, error) {
	var out []model.CleansePolicy
	err := l.warehouse.SelectContext(ctx, &out, `
		SELECT policy_id,
		       rule_set_id,
		       attr_cd,
		       COALESCE(group_company_cd, '') AS group_company_cd,
		       COALESCE(step_no, 0) AS step_no,
		       COALESCE(matcher_kind, '') AS matcher_kind,
		       data_type,
		       ref_map_id,
		       COALESCE(brand_scope, '') AS brand_scope,
		       COALESCE(category_scope, '') AS category_scope,
		       active
		FROM cleanse_policy
		WHERE active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cleanse policies: %w", err)
	}
	return out, nil
}

// ReferenceMaps loads all reference table maps from the warehouse.
func (l *SQLLoader) ReferenceMaps(ctx context.Context) ([]model.ReferenceTableMap, error) {
	var out []model.ReferenceTableMap
	err := l.warehouse.SelectContext(ctx, &out, `
		SELECT ref_map_id,
		       COALESCE(attr_cd, '') AS attr_cd,
		       hop1_table,
		       hop1_match_by,
		       COALESCE(hop1_id_col, '') AS hop1_id_col,
		       COALESCE(hop1_label_col, '') AS hop1_label_col,
		       COALESCE(hop1_code_col, '') AS hop1_code_col,
		       COALESCE(hop1_out_label_col, '') AS hop1_out_label_col,
		       COALESCE(hop1_join_col, '') AS hop1_join_col,
		       COALESCE(hop2_table, '') AS hop2_table,
		       COALESCE(hop2_join_col, '') AS hop2_join_col,
		       COALESCE(hop2_code_col, '') AS hop2_code_col,
		       COALESCE(hop2_label_col, '') AS hop2_label_col
		FROM cleanse_ref_table_map
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference table maps: %w", err)
	}
	return out, nil
}

// ReferenceRows loads one external reference table into memory.
func (l *SQLLoader) ReferenceRows(ctx context.Context, table string) ([]RefRow, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid reference table name %q", table)
	}

	rows, err := l.warehouse.QueryxContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference table %s: %w", table, err)
	}
	defer rows.Close()

	var out []RefRow
	for rows.Next() {
		raw := map[string]interface{}{}
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan reference row from %s: %w", table, err)
		}

		row := make(RefRow, len(raw))
		for col, val := range raw {
			row[col] = columnString(val)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reference table %s: %w", table, err)
	}

	l.logger.Debug("Loaded reference table",
		zap.String("table", table),
		zap.Int("rows", len(out)))
	return out, nil
}

// RuleSets loads all rule sets from the warehouse.
func (l *SQLLoader) RuleSets(ctx context.Context) ([]model.RuleSet, error) {
	var out []model.RuleSet
	err := l.warehouse.SelectContext(ctx, &out, `
		SELECT rule_set_id,
		       COALESCE(rule_set_name, '') AS rule_set_name,
		       COALESCE(rule_version, '') AS rule_version,
		       active
		FROM cleanse_rule_set
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule sets: %w", err)
	}
	return out, nil
}

// ListSources loads the attribute-source vocabulary mappings.
func (l *SQLLoader) ListSources(ctx context.Context) ([]model.ListSourceMapping, error) {
	var out []model.ListSourceMapping
	err := l.warehouse.SelectContext(ctx, &out, `
		SELECT attr_cd,
		       COALESCE(group_company_cd, '') AS group_company_cd,
		       COALESCE(source_id, '') AS source_id,
		       COALESCE(source_label, '') AS source_label,
		       item_id
		FROM cleanse_list_source_map
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query list source mappings: %w", err)
	}
	return out, nil
}

// ListItems loads the controlled-vocabulary items.
func (l *SQLLoader) ListItems(ctx context.Context) ([]model.ListItem, error) {
	var out []model.ListItem
	err := l.warehouse.SelectContext(ctx, &out, `
		SELECT item_id,
		       COALESCE(item_cd, '') AS item_cd,
		       COALESCE(item_label, '') AS item_label
		FROM cleanse_list_item
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query list items: %w", err)
	}
	return out, nil
}

// TokenRoutes loads the token dictionary.
func (l *SQLLoader) TokenRoutes(ctx context.Context) ([]model.TokenRoute, error) {
	var out []model.TokenRoute
	err := l.warehouse.SelectContext(ctx, &out, `
		SELECT COALESCE(group_company_cd, '') AS group_company_cd,
		       COALESCE(brand_cd, '') AS brand_cd,
		       COALESCE(category_cd, '') AS category_cd,
		       token,
		       COALESCE(value_cd, '') AS value_cd,
		       COALESCE(value_text, '') AS value_text
		FROM cleanse_token_route
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query token routes: %w", err)
	}
	return out, nil
}

// BatchMeta loads the batch record from the staging database.
func (l *SQLLoader) BatchMeta(ctx context.Context, batchID string) (*model.BatchMeta, error) {
	var out model.BatchMeta
	err := l.staging.GetContext(ctx, &out, `
		SELECT batch_id,
		       COALESCE(group_company_cd, '') AS group_company_cd,
		       COALESCE(status, '') AS status
		FROM ingest_batch
		WHERE batch_id = $1
	`, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s not found", batchID)
		}
		return nil, fmt.Errorf("failed to query batch metadata: %w", err)
	}
	return &out, nil
}

// columnString renders a scanned column value as a string. Drivers return
// []byte for most warehouse text columns.
func columnString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
