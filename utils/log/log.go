package log

import (
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	gormlogger "gorm.io/gorm/logger"
)

var (
	gormLevelMu sync.RWMutex
	gormLevel   = gormlogger.Warn
)

// SetupGlobalLogger 初始化全局 slog，并让标准库 log 输出走同一个 handler
func SetupGlobalLogger(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	log.SetFlags(0)
	return logger
}

// SetGormLogLevel 设置之后创建的 gorm 连接使用的日志级别
func SetGormLogLevel(level gormlogger.LogLevel) {
	gormLevelMu.Lock()
	gormLevel = level
	gormLevelMu.Unlock()
}

// GormLogger 返回按当前级别配置的 gorm 日志器
func GormLogger() gormlogger.Interface {
	gormLevelMu.RLock()
	level := gormLevel
	gormLevelMu.RUnlock()
	return gormlogger.New(log.New(os.Stderr, "", log.LstdFlags), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Sink 把单行日志转发到 slog，供需要 func(string) 回调的组件使用
func Sink(logger *slog.Logger, component string) func(string) {
	if logger == nil {
		logger = slog.Default()
	}
	l := logger.With("component", component)
	return func(msg string) {
		l.Info(msg)
	}
}
