package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ourlibrary/ourlibrary/client/fetcher"
	"github.com/ourlibrary/ourlibrary/database/archives"
	"github.com/ourlibrary/ourlibrary/database/models"
	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage content database archives",
}

var (
	archiveFileID       string
	archiveFile         string
	archiveSHA256       string
	archiveSize         int64
	archiveFileName     string
	archiveInnerPath    string
	archiveContentType  string
	archiveTier         string
	archiveStorageKey   string
	archiveNotes        string
	archiveMinimum      string
	archivePublishAfter bool
)

var archiveAddCmd = &cobra.Command{
	Use:   "add <version>",
	Short: "Register or update an archive version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := &models.Archive{
			Version:                args[0],
			FileID:                 archiveFileID,
			SHA256:                 archiveSHA256,
			SizeBytes:              archiveSize,
			FileName:               archiveFileName,
			InnerPath:              archiveInnerPath,
			ContentType:            archiveContentType,
			Tier:                   archiveTier,
			StorageKey:             archiveStorageKey,
			ReleaseNotes:           archiveNotes,
			MinimumRequiredVersion: archiveMinimum,
		}
		if archiveFile != "" {
			// 从本地文件计算摘要与大小
			info, err := os.Stat(archiveFile)
			if err != nil {
				return err
			}
			sum, err := fetcher.FileSHA256(archiveFile)
			if err != nil {
				return err
			}
			if a.SHA256 != "" && !strings.EqualFold(a.SHA256, sum) {
				return fmt.Errorf("--sha256 %s does not match %s (%s)", a.SHA256, archiveFile, sum)
			}
			a.SHA256 = sum
			a.SizeBytes = info.Size()
			if a.FileName == "" {
				a.FileName = filepath.Base(archiveFile)
			}
		}
		if err := openLedger(); err != nil {
			return err
		}
		saved, err := archives.Upsert(a)
		if err != nil {
			return err
		}
		if archivePublishAfter {
			if saved, err = archives.Publish(saved.Version); err != nil {
				return err
			}
		}
		return printJSON(cmd, saved)
	},
}

var archivePublishCmd = &cobra.Command{
	Use:   "publish <version>",
	Short: "Mark an archive version as current in the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openLedger(); err != nil {
			return err
		}
		a, err := archives.Publish(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, a)
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archive versions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := openLedger(); err != nil {
			return err
		}
		list, err := archives.List()
		if err != nil {
			return err
		}
		return printJSON(cmd, list)
	},
}

var archiveDeleteCmd = &cobra.Command{
	Use:   "delete <version>",
	Short: "Delete an archive version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openLedger(); err != nil {
			return err
		}
		if err := archives.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	f := archiveAddCmd.Flags()
	f.StringVar(&archiveFileID, "file-id", "", "Storage file id (required)")
	f.StringVar(&archiveFile, "file", "", "Local archive file used to compute sha256 and size")
	f.StringVar(&archiveSHA256, "sha256", "", "Expected SHA-256 of the archive")
	f.Int64Var(&archiveSize, "size", 0, "Archive size in bytes")
	f.StringVar(&archiveFileName, "file-name", "", "Download file name")
	f.StringVar(&archiveInnerPath, "inner-path", "", "Database member inside a zip archive")
	f.StringVar(&archiveContentType, "content-type", "", "Archive content type")
	f.StringVar(&archiveTier, "tier", "", "Entitlement tier")
	f.StringVar(&archiveStorageKey, "storage-key", "", "Object key or relative path, defaults to file id")
	f.StringVar(&archiveNotes, "notes", "", "Release notes")
	f.StringVar(&archiveMinimum, "minimum", "", "Minimum required version advertised with this archive")
	f.BoolVar(&archivePublishAfter, "publish", false, "Publish as current after registering")
	_ = archiveAddCmd.MarkFlagRequired("file-id")

	archiveCmd.AddCommand(archiveAddCmd, archivePublishCmd, archiveListCmd, archiveDeleteCmd)
	RootCmd.AddCommand(archiveCmd)
}
