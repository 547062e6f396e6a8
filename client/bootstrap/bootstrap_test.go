package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ourlibrary/ourlibrary/client/contentdb"
	"github.com/ourlibrary/ourlibrary/client/fetcher"
	"github.com/ourlibrary/ourlibrary/client/manifest"
	"github.com/ourlibrary/ourlibrary/client/tokenclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type staticManifest struct {
	m     *manifest.Manifest
	err   error
	panic bool
}

func (s *staticManifest) Resolve(context.Context, string) (*manifest.Manifest, error) {
	if s.panic {
		panic("resolver exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.m
	if s.m.DatabaseArchive != nil {
		a := *s.m.DatabaseArchive
		cp.DatabaseArchive = &a
	}
	return &cp, nil
}

type stubSigner struct {
	url   string
	sha   string
	name  string
	err   error
	calls []tokenclient.Request
}

func (s *stubSigner) RequestSignedURL(_ context.Context, req tokenclient.Request) (*tokenclient.Grant, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	remaining := 2
	return &tokenclient.Grant{
		URL:            s.url,
		Archive:        &manifest.ArchiveDescriptor{SHA256: s.sha, FileName: s.name},
		QuotaRemaining: &remaining,
	}, nil
}

// contentServer 提供一个带 Books 表的 sqlite 文件
type contentServer struct {
	*httptest.Server
	data []byte
	sha  string
	hits atomic.Int32
}

func newContentServer(t *testing.T) *contentServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "content.db")
	data := writeContentDB(t, path, "")
	sum := sha256.Sum256(data)
	cs := &contentServer{data: data, sha: hex.EncodeToString(sum[:])}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		w.Write(cs.data)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func writeContentDB(t *testing.T, path, ver string) []byte {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE Books (id INTEGER PRIMARY KEY, title TEXT)").Error)
	require.NoError(t, db.Exec("INSERT INTO Books (title) VALUES (?)", "Atlas").Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	if ver != "" {
		require.NoError(t, contentdb.New(nil).WriteVersion(path, ver))
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBootstrap(t *testing.T, root string, opts Options) *Bootstrap {
	t.Helper()
	opts.Root = root
	opts.Logger = quietLogger()
	if opts.Getenv == nil {
		opts.Getenv = func(string) string { return "" }
	}
	b, err := New(opts)
	require.NoError(t, err)
	return b
}

func directManifest(cs *contentServer, sha string) *staticManifest {
	return &staticManifest{m: &manifest.Manifest{
		LatestVersion:          "1.2.0",
		MinimumRequiredVersion: "1.0.0",
		DatabaseArchive:        &manifest.ArchiveDescriptor{DownloadURL: cs.URL + "/OurLibrary.db", SHA256: sha},
	}}
}

func TestFreshInstall(t *testing.T) {
	cs := newContentServer(t)
	root := t.TempDir()
	events := make(ChannelObserver, 1024)
	b := newBootstrap(t, root, Options{Manifests: directManifest(cs, cs.sha), Observer: events})

	res := b.PerformFullInstallation(context.Background())
	require.True(t, res.Success, res.Error)
	assert.False(t, res.Degraded)
	assert.Equal(t, "Installation/Update completed successfully", res.Message)
	assert.Equal(t, int32(1), cs.hits.Load())

	dbPath, err := b.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "database", "OurLibrary.db"), dbPath)
	assert.Equal(t, contentdb.Local{Version: "1.2.0", Exists: true}, contentdb.New(nil).ReadVersion(dbPath))

	cfg, err := b.Store().Reload()
	require.NoError(t, err)
	assert.True(t, cfg.InstallationComplete)
	assert.Equal(t, "1.2.0", cfg.InstallationVersion)
	assert.Equal(t, root, cfg.AppDirectory)

	status := b.InstallationStatus()
	assert.True(t, status.IsComplete)
	assert.True(t, status.ReadyToLaunch)
	assert.Equal(t, StateReady, status.State)

	v := b.VerifyInstallation(context.Background())
	assert.True(t, v.Verified, v.Error)

	// 临时文件全部清理
	entries, err := os.ReadDir(filepath.Join(root, "cache"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	close(events)
	completed := map[Step]bool{}
	var last ProgressEvent
	for e := range events {
		if e.Progress != nil {
			last = *e.Progress
			if e.Progress.Completed {
				completed[e.Progress.Step] = true
			}
		}
	}
	assert.Equal(t, map[Step]bool{StepFileSystem: true, StepDatabase: true, StepConfig: true, StepReady: true}, completed)
	assert.Equal(t, ProgressEvent{Step: StepReady, Completed: true, Message: "Installation complete!"}, last)
}

func TestUpToDateMakesNoChanges(t *testing.T) {
	cs := newContentServer(t)
	root := t.TempDir()
	first := newBootstrap(t, root, Options{Manifests: directManifest(cs, cs.sha)})
	require.True(t, first.PerformFullInstallation(context.Background()).Success)

	dbPath := filepath.Join(root, "database", "OurLibrary.db")
	dbBefore, err := os.Stat(dbPath)
	require.NoError(t, err)
	cfgPath := filepath.Join(root, "user_data", "config.json")
	cfgBefore, err := os.ReadFile(cfgPath)
	require.NoError(t, err)

	second := newBootstrap(t, root, Options{Manifests: directManifest(cs, cs.sha)})
	res := second.PerformFullInstallation(context.Background())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Application is up to date.", res.Message)
	assert.Equal(t, int32(1), cs.hits.Load())
	assert.True(t, second.InstallationStatus().ReadyToLaunch)

	dbAfter, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, dbBefore.ModTime(), dbAfter.ModTime())
	assert.Equal(t, dbBefore.Size(), dbAfter.Size())
	cfgAfter, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, string(cfgBefore), string(cfgAfter))
	assert.NoDirExists(t, filepath.Join(root, "database", "Backups"))
}

func TestClassify(t *testing.T) {
	m := &manifest.Manifest{LatestVersion: "1.2.0", MinimumRequiredVersion: "1.1.0"}
	tests := []struct {
		name   string
		local  string
		status UpdateStatus
		needs  bool
	}{
		{"已是最新", "1.2.0", UpdateUpToDate, false},
		{"高于最新", "1.3", UpdateUpToDate, false},
		{"低于最低版本", "1.0.9", UpdateMandatory, true},
		{"未安装", "0.0.0", UpdateMandatory, true},
		{"可选更新", "1.1.0", UpdateOptional, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, needs := classify(tt.local, m)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.needs, needs)
		})
	}
}

func TestMandatoryUpdateBacksUpExisting(t *testing.T) {
	cs := newContentServer(t)
	root := t.TempDir()
	dbPath := filepath.Join(root, "database", "OurLibrary.db")
	writeContentDB(t, dbPath, "0.9.0")

	b := newBootstrap(t, root, Options{Manifests: directManifest(cs, cs.sha)})
	require.NoError(t, b.InitializeFileSystem(context.Background()))
	check := b.CheckForUpdates(context.Background())
	assert.Equal(t, UpdateMandatory, check.Status)
	assert.Equal(t, contentdb.Local{Version: "0.9.0", Exists: true}, check.Local)
	assert.True(t, check.NeedsUpdate)

	res := b.PerformFullInstallation(context.Background())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "1.2.0", contentdb.New(nil).ReadVersion(dbPath).Version)

	backups, err := os.ReadDir(filepath.Join(root, "database", "Backups"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	backup := filepath.Join(root, "database", "Backups", backups[0].Name())
	assert.Equal(t, "0.9.0", contentdb.New(nil).ReadVersion(backup).Version)
}

func TestFileIDResolvedThroughSigner(t *testing.T) {
	cs := newContentServer(t)
	signer := &stubSigner{url: cs.URL + "/signed?sig=abc", sha: cs.sha}
	src := &staticManifest{m: &manifest.Manifest{
		LatestVersion:          "2.0.0",
		MinimumRequiredVersion: "1.0.0",
		DatabaseArchive:        &manifest.ArchiveDescriptor{FileID: "file-200"},
	}}
	b := newBootstrap(t, t.TempDir(), Options{
		Manifests: src,
		Tokens:    signer,
		Getenv: func(key string) string {
			if key == TokenEnv {
				return "env-token"
			}
			return ""
		},
	})

	res := b.PerformFullInstallation(context.Background())
	require.True(t, res.Success, res.Error)
	assert.False(t, res.Degraded)
	require.Len(t, signer.calls, 1)
	assert.Equal(t, tokenclient.Request{Token: "env-token", FileID: "file-200", Version: "2.0.0"}, signer.calls[0])

	// 配置中的令牌优先于环境变量
	require.NoError(t, b.SetDistributionToken("config-token"))
	assert.Equal(t, "config-token", b.distributionToken())
}

func TestPlaceholderWhenNoToken(t *testing.T) {
	root := t.TempDir()
	src := &staticManifest{m: &manifest.Manifest{
		LatestVersion:          "2.0.0",
		MinimumRequiredVersion: "1.0.0",
		DatabaseArchive:        &manifest.ArchiveDescriptor{FileID: "file-200"},
	}}
	signer := &stubSigner{}
	b := newBootstrap(t, root, Options{Manifests: src, Tokens: signer})

	res := b.PerformFullInstallation(context.Background())
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Degraded)
	assert.Empty(t, signer.calls)

	info, err := os.Stat(filepath.Join(root, "database", "OurLibrary.db"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
	assert.True(t, b.InstallationStatus().ReadyToLaunch)

	v := b.VerifyInstallation(context.Background())
	assert.False(t, v.Verified)
}

func TestPlaceholderWhenSignerRejects(t *testing.T) {
	src := &staticManifest{m: &manifest.Manifest{
		LatestVersion:          "2.0.0",
		MinimumRequiredVersion: "1.0.0",
		DatabaseArchive:        &manifest.ArchiveDescriptor{FileID: "file-200", Version: "2.0.0"},
	}}
	signer := &stubSigner{err: &tokenclient.IssuerError{Code: "resource-exhausted", Message: "Token quota exceeded"}}
	b := newBootstrap(t, t.TempDir(), Options{Manifests: src, Tokens: signer})
	require.NoError(t, b.InitializeFileSystem(context.Background()))
	require.NoError(t, b.SetDistributionToken("tok"))

	res := b.PerformFullInstallation(context.Background())
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Degraded)
	assert.Len(t, signer.calls, 1)
}

func TestIntegrityMismatchFails(t *testing.T) {
	cs := newContentServer(t)
	root := t.TempDir()
	b := newBootstrap(t, root, Options{Manifests: directManifest(cs, "deadbeef")})

	res := b.PerformFullInstallation(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, "Installation/Update failed", res.Message)
	assert.True(t, errors.Is(res.Err, fetcher.ErrIntegrityMismatch))
	assert.Equal(t, StateFailed, b.State())
	assert.False(t, b.InstallationStatus().ReadyToLaunch)

	assert.NoFileExists(t, filepath.Join(root, "database", "OurLibrary.db"))
	entries, err := os.ReadDir(filepath.Join(root, "cache"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManifestError(t *testing.T) {
	src := &staticManifest{err: manifest.ErrUnavailable}

	b := newBootstrap(t, t.TempDir(), Options{Manifests: src})
	res := b.PerformFullInstallation(context.Background())
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, manifest.ErrUnavailable)
	assert.Contains(t, res.Error, "update check failed")

	root := t.TempDir()
	degraded := newBootstrap(t, root, Options{Manifests: src, ProceedOnManifestError: true})
	res = degraded.PerformFullInstallation(context.Background())
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Degraded)
	assert.FileExists(t, filepath.Join(root, "database", "OurLibrary.db"))
}

func TestCancelDuringDownload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.Write(make([]byte, 4096))
		w.(http.Flusher).Flush()
		cancel()
		<-r.Context().Done()
	}))
	defer srv.Close()

	root := t.TempDir()
	src := &staticManifest{m: &manifest.Manifest{
		LatestVersion:          "1.2.0",
		MinimumRequiredVersion: "1.0.0",
		DatabaseArchive:        &manifest.ArchiveDescriptor{DownloadURL: srv.URL + "/OurLibrary.db"},
	}}
	b := newBootstrap(t, root, Options{Manifests: src})

	res := b.PerformFullInstallation(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, b.State())
	assert.NoFileExists(t, filepath.Join(root, "database", "OurLibrary.db"))
	entries, err := os.ReadDir(filepath.Join(root, "cache"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPanicIsContained(t *testing.T) {
	b := newBootstrap(t, t.TempDir(), Options{Manifests: &staticManifest{panic: true}})
	var res Result
	assert.NotPanics(t, func() {
		res = b.PerformFullInstallation(context.Background())
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "resolver exploded")
	assert.Equal(t, StateFailed, b.State())
}

func TestRequiresInitializedFileSystem(t *testing.T) {
	b := newBootstrap(t, t.TempDir(), Options{Manifests: &staticManifest{}})
	_, err := b.DatabasePath()
	assert.ErrorIs(t, err, ErrInstallationIncomplete)
	assert.ErrorIs(t, b.SetDistributionToken("tok"), ErrInstallationIncomplete)
	assert.Equal(t, StateIdle, b.State())
}

func TestDownloadContent(t *testing.T) {
	cs := newContentServer(t)
	root := t.TempDir()
	signer := &stubSigner{url: cs.URL + "/files/book-1", sha: cs.sha, name: "book.db"}
	b := newBootstrap(t, root, Options{Manifests: &staticManifest{}, Tokens: signer})
	require.NoError(t, b.InitializeFileSystem(context.Background()))

	_, err := b.DownloadContent(context.Background(), "book-1", "1.0.0", "")
	assert.ErrorIs(t, err, tokenclient.ErrTokenMissing)

	require.NoError(t, b.SetDistributionToken("tok"))
	dl, err := b.DownloadContent(context.Background(), "book-1", "1.0.0", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "downloads", "book.db"), dl.Path)
	assert.Equal(t, fetcher.TrustVerified, dl.Trust)
	require.NotNil(t, dl.QuotaRemaining)
	assert.Equal(t, 2, *dl.QuotaRemaining)
	assert.FileExists(t, dl.Path)

	signer.sha = "0000"
	dest := filepath.Join(root, "downloads", "bad.db")
	_, err = b.DownloadContent(context.Background(), "book-1", "1.0.0", dest)
	assert.ErrorIs(t, err, fetcher.ErrIntegrityMismatch)
	assert.NoFileExists(t, dest)
}

func TestManifestErrorKeepsLocalVersion(t *testing.T) {
	root := t.TempDir()
	writeContentDB(t, filepath.Join(root, "database", "OurLibrary.db"), "2.5.0")
	src := &staticManifest{err: manifest.ErrUnavailable}
	b := newBootstrap(t, root, Options{Manifests: src, AppVersion: "1.0.0", ProceedOnManifestError: true})
	require.NoError(t, b.InitializeFileSystem(context.Background()))

	check := b.CheckForUpdates(context.Background())
	assert.Equal(t, UpdateError, check.Status)
	assert.Equal(t, contentdb.Local{Version: "2.5.0", Exists: true}, check.Local)

	res := b.PerformFullInstallation(context.Background())
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Degraded)
	cfg, err := b.Store().Config()
	require.NoError(t, err)
	assert.Equal(t, "2.5.0", cfg.InstallationVersion)
	assert.Equal(t, "2.5.0", contentdb.New(nil).ReadVersion(filepath.Join(root, "database", "OurLibrary.db")).Version)
}

func TestDownloadContentKeepsExistingOnMismatch(t *testing.T) {
	cs := newContentServer(t)
	root := t.TempDir()
	signer := &stubSigner{url: cs.URL + "/files/book-1", sha: "deadbeef", name: "book.epub"}
	b := newBootstrap(t, root, Options{Manifests: &staticManifest{}, Tokens: signer})
	require.NoError(t, b.InitializeFileSystem(context.Background()))
	require.NoError(t, b.SetDistributionToken("tok"))

	dest := filepath.Join(root, "downloads", "book.epub")
	require.NoError(t, os.WriteFile(dest, []byte("good copy"), 0o644))

	_, err := b.DownloadContent(context.Background(), "book-1", "1.0.0", "")
	assert.ErrorIs(t, err, fetcher.ErrIntegrityMismatch)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "good copy", string(data))
	entries, err := os.ReadDir(filepath.Join(root, "downloads"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	signer.sha = cs.sha
	dl, err := b.DownloadContent(context.Background(), "book-1", "1.0.0", "")
	require.NoError(t, err)
	assert.Equal(t, dest, dl.Path)
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, cs.data, data)
}

func TestEveryTransitionEmitsProgress(t *testing.T) {
	cs := newContentServer(t)

	tests := []struct {
		name     string
		manifest *staticManifest
		expected []State
	}{
		{"下载更新", directManifest(cs, cs.sha), []State{StateIdle, StateFileSystemReady, StateManifestChecked, StateDatabaseUpdating, StateConfigApplied, StateReady}},
		{"清单失败", &staticManifest{err: manifest.ErrUnavailable}, []State{StateIdle, StateFileSystemReady, StateFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b *Bootstrap
			var seen []State
			obs := ObserverFuncs{Progress: func(ProgressEvent) {
				s := b.State()
				if len(seen) == 0 || seen[len(seen)-1] != s {
					seen = append(seen, s)
				}
			}}
			b = newBootstrap(t, t.TempDir(), Options{Manifests: tt.manifest, Observer: obs})
			b.PerformFullInstallation(context.Background())
			assert.Equal(t, tt.expected, seen)
		})
	}
}
