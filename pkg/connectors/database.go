// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package connectors

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseConnector hands out gorm handles bound to the caller's context.
type DatabaseConnector interface {
	DB(ctx context.Context) *gorm.DB
}

type gormConnector struct {
	db *gorm.DB
}

func (c *gormConnector) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

// NewPostgresConnector opens a Postgres-backed connector from a DSN.
func NewPostgresConnector(dsn string) (DatabaseConnector, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &gormConnector{db: db}, nil
}

// NewSqliteConnector opens a SQLite-backed connector. Used for local
// development and tests; `file::memory:?cache=shared` gives an in-memory
// database shared across connections in one process.
func NewSqliteConnector(dsn string) (DatabaseConnector, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &gormConnector{db: db}, nil
}
