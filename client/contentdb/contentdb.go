// Package contentdb reads and writes the metadata table that the installed
// content database carries about itself.
package contentdb

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	UnknownVersion = "0.0.0"
	booksTable     = "Books"
)

// Local 本地数据库版本。Exists 为 false 表示文件不存在或无法作为数据库打开
type Local struct {
	Version string `json:"version"`
	Exists  bool   `json:"exists"`
}

type metadataEntry struct {
	Key     string `gorm:"column:key;primaryKey"`
	Value   string `gorm:"column:value;not null"`
	Touched string `gorm:"column:updated_at"`
}

func (metadataEntry) TableName() string {
	return "DatabaseMetadata"
}

type DB struct {
	log func(string)
}

func New(log func(string)) *DB {
	if log == nil {
		log = func(string) {}
	}
	return &DB{log: log}
}

func open(path string, readOnly bool) (*gorm.DB, func(), error) {
	dsn := path
	if readOnly {
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { sqlDB.Close() }, nil
}

// ReadVersion 只读打开数据库读取版本，读取不到时返回 0.0.0
func (d *DB) ReadVersion(path string) Local {
	if _, err := os.Stat(path); err != nil {
		return Local{Version: UnknownVersion, Exists: false}
	}
	db, closeFn, err := open(path, true)
	if err != nil {
		d.log(fmt.Sprintf("Error opening database for version check: %v", err))
		return Local{Version: UnknownVersion, Exists: false}
	}
	defer closeFn()

	var tables int64
	if err := db.Raw("SELECT count(*) FROM sqlite_master").Scan(&tables).Error; err != nil {
		d.log(fmt.Sprintf("Error opening database for version check: %v", err))
		return Local{Version: UnknownVersion, Exists: false}
	}
	if !db.Migrator().HasTable(&metadataEntry{}) {
		d.log("No version found in database metadata, assuming 0.0.0")
		return Local{Version: UnknownVersion, Exists: true}
	}
	var entry metadataEntry
	err = db.Where("key = ?", "version").Limit(1).Find(&entry).Error
	if err != nil || entry.Value == "" {
		return Local{Version: UnknownVersion, Exists: true}
	}
	return Local{Version: entry.Value, Exists: true}
}

// WriteVersion 写入版本号与更新时间，表不存在时自动创建
func (d *DB) WriteVersion(path, version string) error {
	db, closeFn, err := open(path, false)
	if err != nil {
		return fmt.Errorf("failed to update database version: %w", err)
	}
	defer closeFn()

	if err := db.AutoMigrate(&metadataEntry{}); err != nil {
		return fmt.Errorf("failed to update database version: %w", err)
	}
	now := time.Now().UTC()
	entries := []metadataEntry{
		{Key: "version", Value: version, Touched: now.Format("2006-01-02 15:04:05")},
		{Key: "last_updated", Value: now.Format(time.RFC3339), Touched: now.Format("2006-01-02 15:04:05")},
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entries).Error; err != nil {
		return fmt.Errorf("failed to update database version: %w", err)
	}
	d.log(fmt.Sprintf("Database version updated to: %s", version))
	return nil
}

var ErrMissingBooks = errors.New("database missing required Books table")

// Verify 要求文件存在且包含 Books 表
func (d *DB) Verify(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("database file does not exist: %w", err)
	}
	db, closeFn, err := open(path, true)
	if err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	defer closeFn()
	if !db.Migrator().HasTable(booksTable) {
		return ErrMissingBooks
	}
	return nil
}
