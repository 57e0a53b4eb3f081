// pkg/cleanse/service.go
package cleanse

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/config"
	"github.com/cataloghub/feed-cleanse/pkg/connector"
	"github.com/cataloghub/feed-cleanse/pkg/refdata"
)

// RunBatch is the composition entry point: it connects to the reference
// warehouse and the staging database, loads the run's reference data and
// executes the cleansing stage for one batch. Connections are closed
// before returning.
func RunBatch(ctx context.Context, cfg *config.Config, batchID string, logger *zap.Logger) (*RunResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	factory := connector.NewConnectorFactory(cfg, logger)
	warehouse, staging, err := factory.CreateAllConnectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer warehouse.Close()
	defer staging.Close()

	for _, conn := range []connector.DatabaseConnector{warehouse, staging} {
		if err := conn.Validate(); err != nil {
			return nil, fmt.Errorf("connection validation failed: %w", err)
		}
	}

	loader, err := refdata.NewSQLLoader(warehouse.Sqlx(), staging.Sqlx(), logger)
	if err != nil {
		return nil, err
	}
	store, err := refdata.Load(ctx, batchID, loader, logger)
	if err != nil {
		return nil, err
	}

	rows, err := NewPostgresRowStore(staging.Sqlx(), logger)
	if err != nil {
		return nil, err
	}
	batches, err := NewPostgresBatchStore(staging.Sqlx(), logger)
	if err != nil {
		return nil, err
	}
	errSink, err := NewPostgresErrorSink(staging.Sqlx(), logger)
	if err != nil {
		return nil, err
	}

	engine, err := NewEngine(store, rows, batches, errSink, logger, Options{
		DatePattern:    cfg.DatePattern,
		WorkerID:       cfg.WorkerID,
		ProductWorkers: cfg.ProductWorkers,
	})
	if err != nil {
		return nil, err
	}

	return engine.Run(ctx, batchID)
}
