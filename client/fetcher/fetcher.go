package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrDownloadFailed    = errors.New("download failed")
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	ErrMemberNotFound    = errors.New("archive member not found")
	ErrInsufficientSpace = errors.New("insufficient disk space")
	ErrStalled           = errors.New("download stalled")
)

// Trust 表示下载结果是否经过摘要校验
type Trust int

const (
	TrustVerified Trust = iota
	// TrustUnverified 未提供摘要，调用方必须把它当作降级事件处理
	TrustUnverified
)

func (t Trust) String() string {
	if t == TrustVerified {
		return "verified"
	}
	return "unverified"
}

// ProgressFunc 仅在响应给出 Content-Length 时调用
type ProgressFunc func(percent float64, done, total int64)

type Options struct {
	// HTTPClient 为空时使用 NewHTTPClient(DefaultTimeout)
	HTTPClient *http.Client
	// StallTimeout 连续多久收不到数据即中止下载，为 0 时使用 DefaultTimeout。
	// 下载总时长不受限制，由调用方的 ctx 控制
	StallTimeout time.Duration
	// WorkDir 临时文件所在目录，为空时使用系统临时目录
	WorkDir string
	Log     func(string)
	// FreeSpace 返回目录所在磁盘的可用字节数，为空时使用 gopsutil
	FreeSpace func(dir string) (uint64, error)
}

type Fetcher struct {
	client    *http.Client
	stall     time.Duration
	workDir   string
	log       func(string)
	freeSpace func(dir string) (uint64, error)
}

func New(opts Options) *Fetcher {
	f := &Fetcher{
		client:    opts.HTTPClient,
		stall:     opts.StallTimeout,
		workDir:   opts.WorkDir,
		log:       opts.Log,
		freeSpace: opts.FreeSpace,
	}
	if f.client == nil {
		f.client = NewHTTPClient(DefaultTimeout)
	}
	if f.stall <= 0 {
		f.stall = DefaultTimeout
	}
	if f.log == nil {
		f.log = func(string) {}
	}
	if f.freeSpace == nil {
		f.freeSpace = diskFree
	}
	return f
}

// NewHTTPClient 只限制建连、TLS 握手和等待响应头的时间，不限制响应体的传输时长
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = timeout
	tr.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: tr}
}

func diskFree(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

type Result struct {
	Path   string
	Bytes  int64
	SHA256 string
}

type progressWriter struct {
	done     int64
	total    int64
	callback ProgressFunc
	onData   func()
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.onData != nil {
		p.onData()
	}
	if p.callback != nil && p.total > 0 {
		p.callback(float64(p.done)/float64(p.total)*100, p.done, p.total)
	}
	return len(b), nil
}

// Fetch 流式下载到 destPath 同目录下的临时文件，边写边计算 SHA-256，完成后重命名到 destPath。
// 失败时临时文件会被删除，destPath 不会出现半成品。
// 超过 StallTimeout 没有收到数据时返回 ErrStalled
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string, onProgress ProgressFunc) (res Result, err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return res, fmt.Errorf("%w: status=%d, body=%s", ErrDownloadFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, err
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return res, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	watchdog := time.AfterFunc(f.stall, func() { cancel(ErrStalled) })
	defer watchdog.Stop()

	hasher := sha256.New()
	pw := &progressWriter{
		total:    resp.ContentLength,
		callback: onProgress,
		onData:   func() { watchdog.Reset(f.stall) },
	}
	size, err := io.Copy(io.MultiWriter(tmp, hasher, pw), resp.Body)
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrStalled) {
			err = cause
		}
		return res, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	if err = tmp.Close(); err != nil {
		return res, err
	}
	if err = os.Rename(tmp.Name(), destPath); err != nil {
		return res, err
	}
	return Result{Path: destPath, Bytes: size, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// FileSHA256 计算文件的 SHA-256
func FileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify 校验文件摘要（忽略大小写）。不一致时删除文件；未提供摘要时返回 TrustUnverified
func Verify(path, expected string) (Trust, error) {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return TrustUnverified, nil
	}
	actual, err := FileSHA256(path)
	if err != nil {
		return TrustUnverified, err
	}
	return verifyDigest(path, actual, expected)
}

func verifyDigest(path, actual, expected string) (Trust, error) {
	if expected == "" {
		return TrustUnverified, nil
	}
	if !strings.EqualFold(actual, expected) {
		os.Remove(path)
		return TrustUnverified, fmt.Errorf("%w: got %s expect %s", ErrIntegrityMismatch, actual, expected)
	}
	return TrustVerified, nil
}
