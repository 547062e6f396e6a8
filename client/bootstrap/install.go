package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ourlibrary/ourlibrary/client/fetcher"
	"github.com/ourlibrary/ourlibrary/client/installstore"
	"github.com/ourlibrary/ourlibrary/client/manifest"
	"github.com/ourlibrary/ourlibrary/client/tokenclient"
)

var errNoDownloadSource = errors.New("manifest does not provide download location")

// Result 安装结果。Degraded 表示使用了占位数据库
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`

	Err error `json:"-"`
}

// PerformFullInstallation 确保安装目录已初始化且内容数据库为最新。
// 任何失败（包括 panic）都以 Success=false 的结果返回
func (b *Bootstrap) PerformFullInstallation(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = b.fail(fmt.Errorf("unexpected panic: %v", r))
		}
	}()
	b.log("Starting OurLibrary installation/update...")

	if err := b.InitializeFileSystem(ctx); err != nil {
		return b.fail(err)
	}

	check := b.CheckForUpdates(ctx)
	if check.Status == UpdateError {
		if !b.opts.ProceedOnManifestError || ctx.Err() != nil {
			return b.fail(fmt.Errorf("update check failed: %w", check.Err))
		}
		b.log("Manifest unavailable; continuing without a download source")
	}
	b.transition(StateManifestChecked, StepDatabase, false, fmt.Sprintf("Update check: %s", check.Status))

	if check.Status == UpdateUpToDate && check.Local.Exists {
		b.log("Application and database are already up to date.")
		b.transition(StateUpToDate, StepDatabase, true, "Database up to date")
		b.updateProgress(StepConfig, true, "Configuration up to date")
		b.transition(StateReady, StepReady, true, "Installation complete!")
		return Result{Success: true, Message: "Application is up to date."}
	}

	if check.Remote != nil {
		b.log(fmt.Sprintf("Update status: %s. Local: %s, Remote: %s", check.Status, check.Local.Version, check.Remote.LatestVersion))
	}

	var req *fetcher.Request
	if check.Remote != nil && check.Remote.DatabaseArchive != nil {
		r, err := b.resolveDownload(ctx, check.Remote)
		if err != nil {
			b.log(fmt.Sprintf("Unable to resolve download info: %v", err))
		} else {
			req = r
		}
	}
	if err := ctx.Err(); err != nil {
		return b.fail(err)
	}

	degraded := false
	installedVersion := ""
	if req != nil {
		b.transition(StateDatabaseUpdating, StepDatabase, false, "Downloading latest database...")
		if err := b.installDatabase(ctx, *req, check.Remote.LatestVersion); err != nil {
			return b.fail(err)
		}
		installedVersion = check.Remote.LatestVersion
		b.updateProgress(StepDatabase, true, "Database installed/updated successfully")
	} else {
		b.log("No download source available; creating placeholder database.")
		dbPath, err := b.DatabasePath()
		if err != nil {
			return b.fail(err)
		}
		if _, err := b.store.CreatePlaceholder(dbPath); err != nil {
			return b.fail(err)
		}
		degraded = true
		if check.Local.Exists {
			installedVersion = check.Local.Version
		}
		b.transition(StatePlaceholderCreated, StepDatabase, true, "Database placeholder ready")
	}

	if err := b.configureApplication(installedVersion); err != nil {
		return b.fail(err)
	}

	b.transition(StateReady, StepReady, true, "Installation complete!")
	b.log("Installation/Update completed successfully!")
	return Result{Success: true, Message: "Installation/Update completed successfully", Degraded: degraded}
}

func (b *Bootstrap) fail(err error) Result {
	b.log(fmt.Sprintf("Installation/Update failed: %v", err))
	b.transition(StateFailed, "", false, "Installation/Update failed")
	return Result{
		Success: false,
		Message: "Installation/Update failed",
		Error:   err.Error(),
		Err:     err,
	}
}

// resolveDownload 直接地址优先，否则用分发令牌换取签名地址
func (b *Bootstrap) resolveDownload(ctx context.Context, m *manifest.Manifest) (*fetcher.Request, error) {
	entry := m.DatabaseArchive
	req := &fetcher.Request{
		SHA256:      entry.SHA256,
		SizeBytes:   entry.SizeBytes,
		InnerPath:   entry.InnerPath,
		ContentType: entry.ContentType,
		FileName:    entry.FileName,
		Archive:     entry.Archive,
	}
	if entry.DownloadURL != "" {
		req.URL = entry.DownloadURL
		return req, nil
	}
	if entry.FileID == "" {
		return nil, errNoDownloadSource
	}

	token := b.distributionToken()
	if token == "" {
		return nil, fmt.Errorf("distribution token not configured: %w", tokenclient.ErrTokenMissing)
	}
	if b.tokens == nil {
		return nil, tokenclient.ErrEndpointNotConfigured
	}
	grant, err := b.tokens.RequestSignedURL(ctx, tokenclient.Request{
		Token:   token,
		FileID:  entry.FileID,
		Version: firstNonEmpty(entry.Version, m.LatestVersion, b.appVersion()),
	})
	if err != nil {
		return nil, err
	}
	req.URL = grant.URL
	if a := grant.Archive; a != nil {
		req.SHA256 = firstNonEmpty(req.SHA256, a.SHA256)
		req.InnerPath = firstNonEmpty(req.InnerPath, a.InnerPath)
		req.ContentType = firstNonEmpty(req.ContentType, a.ContentType)
		req.FileName = firstNonEmpty(req.FileName, a.FileName)
		req.Archive = req.Archive || a.Archive
		if req.SizeBytes == 0 {
			req.SizeBytes = a.SizeBytes
		}
	}
	return req, nil
}

// installDatabase 下载并校验归档，备份旧数据库后替换，最后写入新版本号
func (b *Bootstrap) installDatabase(ctx context.Context, req fetcher.Request, latest string) error {
	dbPath, err := b.DatabasePath()
	if err != nil {
		return err
	}
	b.log(fmt.Sprintf("Downloading database from: %s", stripQuery(req.URL)))

	lastPercent := -1
	req.Progress = func(percent float64, done, total int64) {
		p := int(math.Floor(percent))
		if p == lastPercent {
			return
		}
		lastPercent = p
		b.updateProgress(StepDatabase, false, fmt.Sprintf("Downloading database... %.1f%% (%.1fMB / %.1fMB)",
			percent, float64(done)/1024/1024, float64(total)/1024/1024))
	}

	art, err := b.fetcher.Retrieve(ctx, req)
	if err != nil {
		b.log(fmt.Sprintf("Database download failed: %v", err))
		return err
	}
	defer art.Cleanup()
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := b.store.BackupThenReplace(dbPath, art.Path); err != nil {
		return err
	}
	if err := b.content.WriteVersion(dbPath, latest); err != nil {
		return err
	}
	b.log("Database updated successfully")
	return nil
}

func (b *Bootstrap) configureApplication(installedVersion string) error {
	b.log("Configuring application...")
	b.updateProgress(StepConfig, false, "Applying configuration")
	_, err := b.store.UpdateConfig(func(c *installstore.Config) error {
		c.InstallationDate = b.opts.Now().UTC().Format(time.RFC3339)
		c.InstallationVersion = firstNonEmpty(installedVersion, c.Version)
		c.InstallationComplete = true
		c.AppDirectory = b.store.Root()
		return nil
	})
	if err != nil {
		b.log(fmt.Sprintf("Configuration failed: %v", err))
		return err
	}
	b.transition(StateConfigApplied, StepConfig, true, "Configuration complete")
	b.log("Application configuration completed")
	return nil
}

func (b *Bootstrap) appVersion() string {
	if cfg, err := b.store.Config(); err == nil && cfg.Version != "" {
		return cfg.Version
	}
	return b.opts.AppVersion
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// stripQuery 日志中不输出签名参数
func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
