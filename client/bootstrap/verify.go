package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ourlibrary/ourlibrary/client/fetcher"
	"github.com/ourlibrary/ourlibrary/client/tokenclient"
)

type Verification struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`

	Err error `json:"-"`
}

// VerifyInstallation 检查安装目录、配置文件以及数据库中的 Books 表
func (b *Bootstrap) VerifyInstallation(ctx context.Context) Verification {
	b.log("Verifying installation...")
	if err := b.verify(ctx); err != nil {
		b.log(fmt.Sprintf("Installation verification failed: %v", err))
		return Verification{Verified: false, Error: err.Error(), Err: err}
	}
	b.log("Installation verification passed")
	return Verification{Verified: true, Message: "Installation is valid"}
}

func (b *Bootstrap) verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root := b.store.Root()
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("OurLibrary directory not found at %s: %w", root, err)
	}
	configPath := b.store.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found at %s: %w", configPath, err)
	}
	cfg, err := b.store.Reload()
	if err != nil {
		return err
	}
	if !cfg.InstallationComplete {
		return ErrInstallationIncomplete
	}
	return b.content.Verify(b.store.ResolvePath(cfg.DatabasePath))
}

type ContentDownload struct {
	Path           string        `json:"path"`
	Bytes          int64         `json:"bytes"`
	SHA256         string        `json:"sha256"`
	Trust          fetcher.Trust `json:"-"`
	QuotaRemaining *int          `json:"quotaRemaining"`
}

// DownloadContent 为单个内容文件换取签名地址并下载到 dest。
// dest 为空时保存到配置的下载目录。摘要不一致时 dest 保持原样
func (b *Bootstrap) DownloadContent(ctx context.Context, fileID, version, dest string) (*ContentDownload, error) {
	token := b.distributionToken()
	if token == "" {
		return nil, tokenclient.ErrTokenMissing
	}
	if b.tokens == nil {
		return nil, tokenclient.ErrEndpointNotConfigured
	}
	grant, err := b.tokens.RequestSignedURL(ctx, tokenclient.Request{Token: token, FileID: fileID, Version: version})
	if err != nil {
		return nil, err
	}

	expected := ""
	name := fileID
	if grant.Archive != nil {
		expected = grant.Archive.SHA256
		if grant.Archive.FileName != "" {
			name = grant.Archive.FileName
		}
	}
	if dest == "" {
		dir, err := b.store.DownloadsDir()
		if err != nil {
			return nil, err
		}
		dest = filepath.Join(dir, filepath.Base(filepath.Clean("/"+name)))
	}

	b.log(fmt.Sprintf("Downloading %s (%s) to %s", fileID, version, dest))
	// 先下载到 dest 同目录的暂存文件，校验通过后才替换 dest
	staging := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".partial")
	res, err := b.fetcher.Fetch(ctx, grant.URL, staging, nil)
	if err != nil {
		return nil, err
	}
	trust := fetcher.TrustUnverified
	if expected = strings.TrimSpace(expected); expected != "" {
		if !strings.EqualFold(res.SHA256, expected) {
			os.Remove(staging)
			return nil, fmt.Errorf("%w: got %s expect %s", fetcher.ErrIntegrityMismatch, res.SHA256, expected)
		}
		trust = fetcher.TrustVerified
	}
	if err := os.Rename(staging, dest); err != nil {
		os.Remove(staging)
		return nil, err
	}
	res.Path = dest
	return &ContentDownload{
		Path:           res.Path,
		Bytes:          res.Bytes,
		SHA256:         res.SHA256,
		Trust:          trust,
		QuotaRemaining: grant.QuotaRemaining,
	}, nil
}
