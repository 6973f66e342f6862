package ioc

import (
	"fmt"
	"sync/atomic"
	"testing"

	"seckill/internal/repository"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// InitDB 为每个测试创建独立的内存 SQLite，并建好表。
// 只开一个连接，事务与查询天然串行，避免 SQLite 表锁冲突。
func InitDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:seckill_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.InitTables(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
