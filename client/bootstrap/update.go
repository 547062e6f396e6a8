package bootstrap

import (
	"context"
	"fmt"

	"github.com/ourlibrary/ourlibrary/client/contentdb"
	"github.com/ourlibrary/ourlibrary/client/manifest"
	"github.com/ourlibrary/ourlibrary/client/version"
	"golang.org/x/sync/errgroup"
)

type UpdateStatus string

const (
	UpdateUpToDate  UpdateStatus = "up-to-date"
	UpdateMandatory UpdateStatus = "mandatory"
	UpdateOptional  UpdateStatus = "optional"
	UpdateError     UpdateStatus = "error"
)

type UpdateCheck struct {
	Status      UpdateStatus       `json:"status"`
	Local       contentdb.Local    `json:"local"`
	Remote      *manifest.Manifest `json:"remote"`
	NeedsUpdate bool               `json:"needsUpdate"`
	Error       string             `json:"error,omitempty"`

	Err error `json:"-"`
}

// classify 比较本地版本与清单中的最新版本、最低版本
func classify(local string, m *manifest.Manifest) (UpdateStatus, bool) {
	isLatest := version.Compare(local, m.LatestVersion) >= 0
	meetsMinimum := version.Compare(local, m.MinimumRequiredVersion) >= 0
	switch {
	case isLatest:
		return UpdateUpToDate, false
	case !meetsMinimum:
		return UpdateMandatory, true
	default:
		return UpdateOptional, true
	}
}

// CheckForUpdates 并发读取远程清单与本地数据库版本。清单不可用时返回 UpdateError 而不是错误
func (b *Bootstrap) CheckForUpdates(ctx context.Context) UpdateCheck {
	dbPath, err := b.DatabasePath()
	if err != nil {
		return b.failedCheck(err, contentdb.Local{Version: "unknown"})
	}

	var (
		remote *manifest.Manifest
		local  contentdb.Local
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := b.manifest.Resolve(gctx, b.opts.ManifestURL)
		if err != nil {
			return err
		}
		remote = m
		return nil
	})
	g.Go(func() error {
		local = b.content.ReadVersion(dbPath)
		return nil
	})
	if err := g.Wait(); err != nil {
		// 本地版本读取不会失败，清单失败时仍保留
		return b.failedCheck(err, local)
	}

	status, needsUpdate := classify(local.Version, remote)
	return UpdateCheck{
		Status:      status,
		Local:       local,
		Remote:      remote,
		NeedsUpdate: needsUpdate,
	}
}

func (b *Bootstrap) failedCheck(err error, local contentdb.Local) UpdateCheck {
	b.log(fmt.Sprintf("Update check failed: %v", err))
	return UpdateCheck{
		Status: UpdateError,
		Local:  local,
		Error:  err.Error(),
		Err:    err,
	}
}
