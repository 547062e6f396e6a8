package main

import (
	"log"
	"log/slog"

	"github.com/ourlibrary/ourlibrary/cmd"
	"github.com/ourlibrary/ourlibrary/utils"
	logutil "github.com/ourlibrary/ourlibrary/utils/log"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	if utils.VersionHash == "unknown" {
		logutil.SetupGlobalLogger(slog.LevelDebug)
		logutil.SetGormLogLevel(gormlogger.Info)
	} else {
		logutil.SetupGlobalLogger(slog.LevelInfo)
		logutil.SetGormLogLevel(gormlogger.Silent)
	}

	log.Printf("OurLibrary %s (hash: %s)", utils.CurrentVersion, utils.VersionHash)

	cmd.Execute()
}
