// Package db opens and migrates the Mailroom database.
package db

import (
	"fmt"

	"github.com/castellan/mailroom/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from config.
func DSN(cfg config.MySQLConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

// Connect opens a GORM connection based on config: sqlite when SQLitePath
// is set, MySQL otherwise.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if cfg.SQLitePath != "" {
		conn, err := gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return conn, nil
	}

	conn, err := gorm.Open(mysql.Open(DSN(cfg.MySQL)), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w",
			cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.Database, err)
	}
	return conn, nil
}
