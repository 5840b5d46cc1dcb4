package db

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tyre-matrix/internal/config"
	"tyre-matrix/internal/model"
)

var DB *gorm.DB

func InitDB(cfg *config.Config) error {
	var err error
	DB, err = gorm.Open(mysql.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	slog.Info("Database initialised.", "host", cfg.Database.Host, "db", cfg.Database.DBName)
	return nil
}

// Migrate creates or updates the service tables.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&model.TestRun{},
		&model.JobRecord{},
		&model.TydexDocument{},
	); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
