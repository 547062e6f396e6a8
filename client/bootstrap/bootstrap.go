package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ourlibrary/ourlibrary/client/contentdb"
	"github.com/ourlibrary/ourlibrary/client/fetcher"
	"github.com/ourlibrary/ourlibrary/client/installstore"
	"github.com/ourlibrary/ourlibrary/client/manifest"
	"github.com/ourlibrary/ourlibrary/client/tokenclient"
)

const (
	DefaultManifestURL = "https://ourlibrary.github.io/manifest.json"
	ManifestURLEnv     = "OURLIBRARY_MANIFEST_URL"
	TokenEnv           = "OURLIBRARY_TOKEN"
)

// ErrInstallationIncomplete 文件系统尚未初始化，或配置中未标记安装完成
var ErrInstallationIncomplete = errors.New("installation incomplete")

type ManifestSource interface {
	Resolve(ctx context.Context, url string) (*manifest.Manifest, error)
}

type ArchiveFetcher interface {
	Retrieve(ctx context.Context, req fetcher.Request) (*fetcher.Artifact, error)
	Fetch(ctx context.Context, url, destPath string, onProgress fetcher.ProgressFunc) (fetcher.Result, error)
}

type URLSigner interface {
	RequestSignedURL(ctx context.Context, req tokenclient.Request) (*tokenclient.Grant, error)
}

type ContentDB interface {
	ReadVersion(path string) contentdb.Local
	WriteVersion(path, version string) error
	Verify(path string) error
}

type Options struct {
	// Root 安装根目录，为空时使用 ~/OurLibrary
	Root        string
	AppVersion  string
	ManifestURL string
	// TokenEndpoint 未注入 Tokens 时，用该地址创建 HTTP 签发客户端
	TokenEndpoint string
	// FallbackPath 与 ResourcesDir 仅在未注入 Manifests 时使用
	FallbackPath string
	ResourcesDir string
	// ControlTimeout 与 ContentTimeout 仅作用于默认创建的清单解析器与下载器
	ControlTimeout time.Duration
	ContentTimeout time.Duration

	Manifests ManifestSource
	Fetcher   ArchiveFetcher
	Tokens    URLSigner
	ContentDB ContentDB
	Observer  Observer
	Logger    *slog.Logger

	// ProceedOnManifestError 清单不可用时不中止安装，改为创建占位数据库
	ProceedOnManifestError bool
	Getenv                 func(string) string
	Now                    func() time.Time
}

// Bootstrap 负责一个安装目录的初始化与更新。同一目录同一时间只应有一个实例在运行安装
type Bootstrap struct {
	opts     Options
	store    *installstore.Store
	manifest ManifestSource
	fetcher  ArchiveFetcher
	tokens   URLSigner
	content  ContentDB
	observer Observer
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	step        Step
	progress    Progress
	initialized bool
}

func New(opts Options) (*Bootstrap, error) {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ManifestURL == "" {
		opts.ManifestURL = opts.Getenv(ManifestURLEnv)
	}
	if opts.ManifestURL == "" {
		opts.ManifestURL = DefaultManifestURL
	}
	b := &Bootstrap{
		opts:     opts,
		observer: opts.Observer,
		logger:   opts.Logger,
	}
	if b.observer == nil {
		b.observer = ObserverFuncs{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	store, err := installstore.New(installstore.Options{
		Root:       opts.Root,
		AppVersion: opts.AppVersion,
		Log:        b.log,
		Now:        opts.Now,
	})
	if err != nil {
		return nil, err
	}
	b.store = store

	b.manifest = opts.Manifests
	if b.manifest == nil {
		b.manifest = manifest.NewResolver(manifest.Options{
			HTTPClient:   httpClient(opts.ControlTimeout, manifest.DefaultTimeout),
			FallbackPath: opts.FallbackPath,
			ResourcesDir: opts.ResourcesDir,
			InstallDir:   store.Root(),
			Log:          b.log,
		})
	}
	b.fetcher = opts.Fetcher
	if b.fetcher == nil {
		stall := opts.ContentTimeout
		if stall <= 0 {
			stall = fetcher.DefaultTimeout
		}
		b.fetcher = fetcher.New(fetcher.Options{
			HTTPClient:   fetcher.NewHTTPClient(stall),
			StallTimeout: stall,
			WorkDir:      filepath.Join(store.Root(), "cache"),
			Log:          b.log,
		})
	}
	b.tokens = opts.Tokens
	if b.tokens == nil && opts.TokenEndpoint != "" {
		b.tokens = tokenclient.New(tokenclient.Options{
			Transport: tokenclient.NewHTTPTransport(opts.TokenEndpoint, httpClient(opts.ControlTimeout, tokenclient.DefaultHTTPTimeout)),
			Log:       b.log,
		})
	}
	b.content = opts.ContentDB
	if b.content == nil {
		b.content = contentdb.New(b.log)
	}
	return b, nil
}

func httpClient(timeout, fallback time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = fallback
	}
	return &http.Client{Timeout: timeout}
}

func (b *Bootstrap) log(msg string) {
	b.logger.Info(msg, "component", "bootstrap")
	b.observer.OnLog(msg)
}

func (b *Bootstrap) updateProgress(step Step, completed bool, message string) {
	b.mu.Lock()
	b.step = step
	b.progress.set(step, completed)
	b.mu.Unlock()
	b.observer.OnProgress(ProgressEvent{Step: step, Completed: completed, Message: message})
}

// transition 切换状态并发出一条进度事件。进入 Failed 时事件归属最后活动的步骤，不改动已完成的进度
func (b *Bootstrap) transition(s State, step Step, completed bool, message string) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	if s == StateFailed {
		step, completed = b.step, false
	} else {
		b.step = step
		b.progress.set(step, completed)
	}
	b.mu.Unlock()
	b.logger.Debug("state transition", "component", "bootstrap", "from", prev.String(), "to", s.String())
	b.observer.OnProgress(ProgressEvent{Step: step, Completed: completed, Message: message})
}

func (b *Bootstrap) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// InitializeFileSystem 创建目录结构并加载配置，可重复调用
func (b *Bootstrap) InitializeFileSystem(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.log("Initializing file system structure...")
	b.updateProgress(StepFileSystem, false, "Creating directory structure")
	if _, err := b.store.PrepareLayout(); err != nil {
		b.log("File system initialization failed: " + err.Error())
		return err
	}
	b.mu.Lock()
	b.initialized = true
	b.mu.Unlock()
	b.transition(StateFileSystemReady, StepFileSystem, true, "File system ready")
	b.log("File system initialization completed")
	return nil
}

func (b *Bootstrap) isInitialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// AppDirectory 安装根目录的绝对路径
func (b *Bootstrap) AppDirectory() string {
	return b.store.Root()
}

func (b *Bootstrap) Store() *installstore.Store {
	return b.store
}

// DatabasePath 内容数据库的绝对路径，需先调用 InitializeFileSystem
func (b *Bootstrap) DatabasePath() (string, error) {
	if !b.isInitialized() {
		return "", ErrInstallationIncomplete
	}
	return b.store.DatabasePath()
}

func (b *Bootstrap) SetDistributionToken(token string) error {
	if !b.isInitialized() {
		return ErrInstallationIncomplete
	}
	return b.store.SetDistributionToken(token)
}

// distributionToken 优先使用配置中的令牌，其次是环境变量
func (b *Bootstrap) distributionToken() string {
	if cfg, err := b.store.Config(); err == nil && strings.TrimSpace(cfg.DistributionToken) != "" {
		return strings.TrimSpace(cfg.DistributionToken)
	}
	return strings.TrimSpace(b.opts.Getenv(TokenEnv))
}

func (b *Bootstrap) InstallationStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.progress
	return Status{
		Progress:      p,
		State:         b.state,
		IsComplete:    p.Ready,
		ReadyToLaunch: p.FileSystem && p.Database && p.Config,
	}
}
