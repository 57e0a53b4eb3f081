// pkg/connector/factory.go
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/config"
)

// ConnectorFactory creates database connectors
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateWarehouseConnector creates the reference-warehouse connector
func (f *ConnectorFactory) CreateWarehouseConnector(ctx context.Context) (*SnowflakeConnector, error) {
	f.logger.Info("Creating reference warehouse connector")

	connector, err := NewSnowflakeConnector(ctx, f.cfg.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("failed to create Snowflake connector: %w", err)
	}

	return connector, nil
}

// CreateStagingConnector creates the staging database connector
func (f *ConnectorFactory) CreateStagingConnector(ctx context.Context) (*PostgresConnector, error) {
	f.logger.Info("Creating staging database connector")

	connector, err := NewPostgresConnector(ctx, f.cfg.Staging)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connector: %w", err)
	}

	return connector, nil
}

// CreateAllConnectors creates both the warehouse and staging connectors
func (f *ConnectorFactory) CreateAllConnectors(ctx context.Context) (*SnowflakeConnector, *PostgresConnector, error) {
	sfConn, err := f.CreateWarehouseConnector(ctx)
	if err != nil {
		return nil, nil, err
	}

	pgConn, err := f.CreateStagingConnector(ctx)
	if err != nil {
		sfConn.Close() // Clean up the warehouse connection if staging fails
		return nil, nil, err
	}

	return sfConn, pgConn, nil
}
