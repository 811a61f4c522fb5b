// Package datastore opens the monitord database and runs migrations.
// SQLite is the default for single-host deployments; MySQL is available
// for shared installations. All access goes through the repository
// interfaces in the repository subpackage.
package datastore

import (
	"fmt"

	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database and migrates the schema.
func Open(settings *conf.DatabaseSettings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch settings.Type {
	case "mysql":
		dialector = mysql.Open(settings.DSN)
	case "sqlite":
		dialector = sqlite.Open(settings.Path)
	default:
		return nil, fmt.Errorf("unsupported database type %q", settings.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", settings.Type, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the monitord schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&entities.Device{},
		&entities.AlertRule{},
		&entities.AlertHistory{},
		&entities.Notification{},
		&entities.ChannelResult{},
		&entities.ScanJob{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
