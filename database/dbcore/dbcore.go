package dbcore

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/ourlibrary/ourlibrary/database/models"
	logutil "github.com/ourlibrary/ourlibrary/utils/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	TypeSQLite = "sqlite"
	TypeMySQL  = "mysql"
)

var (
	instance *gorm.DB
	mu       sync.RWMutex
)

// Options 数据库连接参数，DSN 对 sqlite 为文件路径
type Options struct {
	Type string
	DSN  string
}

// Open 按类型打开数据库并迁移台账表结构
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Type {
	case "", TypeSQLite:
		if dir := filepath.Dir(opts.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		// sqlite 不支持行锁，打开 WAL 与 busy_timeout 以降低并发写冲突
		dialector = sqlite.Open(opts.DSN + "?_journal_mode=WAL&_busy_timeout=5000")
	case TypeMySQL:
		dialector = mysql.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", opts.Type)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logutil.GormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.Type == "" || opts.Type == TypeSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// 单连接串行化写入，事务内必须只使用 tx
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(
		&models.Token{},
		&models.Redemption{},
		&models.Archive{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// InitDB 打开数据库并设置为全局实例
func InitDB(opts Options) error {
	db, err := Open(opts)
	if err != nil {
		return err
	}
	SetDBInstance(db)
	log.Printf("database ready: type=%s", opts.Type)
	return nil
}

func SetDBInstance(db *gorm.DB) {
	mu.Lock()
	defer mu.Unlock()
	instance = db
}

// GetDBInstance 返回全局数据库实例，未初始化时 panic
func GetDBInstance() *gorm.DB {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("database not initialized")
	}
	return instance
}
