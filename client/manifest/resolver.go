package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultTimeout = 15 * time.Second
	FallbackEnv    = "OURLIBRARY_MANIFEST_FALLBACK"
	fallbackName   = "manifest.local.json"
	maxManifestLen = 1 << 20
)

type Options struct {
	// HTTPClient 为空时使用带 DefaultTimeout 的客户端
	HTTPClient *http.Client
	// FallbackPath 显式指定的备用清单，优先于 OURLIBRARY_MANIFEST_FALLBACK
	FallbackPath string
	// ResourcesDir 打包资源目录
	ResourcesDir string
	// WorkDir 为空时使用当前工作目录
	WorkDir string
	// InstallDir 安装根目录
	InstallDir string
	Log        func(string)
}

type Resolver struct {
	opts Options
}

func NewResolver(opts Options) *Resolver {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.Log == nil {
		opts.Log = func(string) {}
	}
	return &Resolver{opts: opts}
}

// Resolve 先请求主地址，失败后按顺序尝试本地备用清单
func (r *Resolver) Resolve(ctx context.Context, primaryURL string) (*Manifest, error) {
	m, err := r.fetchRemote(ctx, primaryURL)
	if err == nil {
		m.Source = primaryURL
		return m, nil
	}
	r.opts.Log(fmt.Sprintf("Error fetching remote manifest: %v", err))
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}

	if fb := r.loadFallback(err); fb != nil {
		return fb, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (r *Resolver) fetchRemote(ctx context.Context, url string) (*Manifest, error) {
	if url == "" {
		return nil, errors.New("manifest url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: failed to fetch manifest", ErrInvalid, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestLen))
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// Candidates 备用清单的查找顺序
func (r *Resolver) Candidates() []string {
	var paths []string
	explicit := r.opts.FallbackPath
	if explicit == "" {
		explicit = os.Getenv(FallbackEnv)
	}
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if r.opts.ResourcesDir != "" {
		paths = append(paths,
			filepath.Join(r.opts.ResourcesDir, "config", fallbackName),
			filepath.Join(r.opts.ResourcesDir, "app.asar.unpacked", "config", fallbackName),
		)
	}
	wd := r.opts.WorkDir
	if wd == "" {
		wd, _ = os.Getwd()
	}
	if wd != "" {
		paths = append(paths, filepath.Join(wd, "config", fallbackName))
	}
	if r.opts.InstallDir != "" {
		paths = append(paths, filepath.Join(r.opts.InstallDir, "config", fallbackName))
	}
	return paths
}

func (r *Resolver) loadFallback(cause error) *Manifest {
	for _, candidate := range r.Candidates() {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.opts.Log(fmt.Sprintf("Failed to load fallback manifest from %s: %v", candidate, err))
			}
			continue
		}
		m, err := Parse(data)
		if err != nil {
			r.opts.Log(fmt.Sprintf("Failed to load fallback manifest from %s: %v", candidate, err))
			continue
		}
		m.FromFallback = true
		m.Source = candidate
		r.opts.Log(fmt.Sprintf("Using fallback manifest at: %s", candidate))
		r.opts.Log(fmt.Sprintf("Reason for fallback: %v", cause))
		return m
	}
	return nil
}
