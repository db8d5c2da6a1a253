package configdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// ConfigDB holds the model catalog and the system variables
type ConfigDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open or create the config DB
func NewConfigDB(logger logs.Log, dbFilename string) (*ConfigDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbFilename), 0770); err != nil {
		return nil, fmt.Errorf("Failed to create config DB directory: %w", err)
	}
	logger.Infof("Opening config DB at '%v'", dbFilename)
	configDB, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &ConfigDB{
		Log: logger,
		DB:  configDB,
	}, nil
}

// Close the underlying database connection
func (c *ConfigDB) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
