package db

import (
	"fmt"
	"strings"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	gormlog "gorm.io/gorm/logger"
)

var memSeq atomic.Int64

// OpenMemory opens a private in-memory sqlite database with the schema
// migrated. Each call gets its own database.
func OpenMemory(name string) (*GormDatabase, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, memSeq.Add(1))
	database, err := Open(sqlite.Open(dsn), gormlog.Default.LogMode(gormlog.Silent))
	if err != nil {
		return nil, err
	}
	sqlDB, err := database.DB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return database, nil
}
