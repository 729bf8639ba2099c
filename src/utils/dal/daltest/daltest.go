// Package daltest provides throwaway databases for tests
package daltest

import (
	"fmt"

	"github.com/vianetwork/btcwatch/src/utils/model"

	"github.com/rs/xid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Opens a fresh in-memory database with all tables created
func NewDB() (db *gorm.DB, err error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", xid.New().String())
	db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: model.NewGormLogger()})
	if err != nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		return
	}

	// Shared cache in-memory databases don't support concurrent writers
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(model.Models()...)
	return
}
