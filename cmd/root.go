package cmd

import (
	"os"

	"github.com/ourlibrary/ourlibrary/cmd/flags"
	"github.com/ourlibrary/ourlibrary/database/dbcore"
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "ourlibrary",
	Short: "OurLibrary content distribution",
	Long: `OurLibrary content distribution.

serve 提供清单与签名下载地址，install 在本机安装或更新内容数据库。
所有参数都可以通过 OURLIBRARY_ 前缀的环境变量设置。`,
	SilenceUsage: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVar(&flags.DatabaseType, "db-type", GetEnv(flagNameToEnvVar("db-type"), dbcore.TypeSQLite), "Ledger database type (sqlite, mysql)")
	pf.StringVar(&flags.DatabaseDSN, "db-dsn", GetEnv(flagNameToEnvVar("db-dsn"), "./data/ourlibrary.db"), "Ledger database file path or MySQL DSN")
}

func openLedger() error {
	return dbcore.InitDB(dbcore.Options{Type: flags.DatabaseType, DSN: flags.DatabaseDSN})
}
