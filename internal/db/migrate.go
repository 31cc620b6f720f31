package db

import (
	"fmt"

	"github.com/systemaudit/winstaller/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.ChatSession{},
		&models.Installation{},
		&models.InstallLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops all tables and recreates them. Destructive; used by "wi db reset".
func Reset(gdb *gorm.DB) error {
	for _, m := range AllModels() {
		if err := gdb.Migrator().DropTable(m); err != nil {
			return fmt.Errorf("db: drop table: %w", err)
		}
	}
	return AutoMigrate(gdb)
}
