package issuer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ourlibrary/ourlibrary/database/models"
	"github.com/ourlibrary/ourlibrary/utils/securestore"
)

// LocalProvider 由本服务自己提供文件下载，地址用 HMAC 签名并带过期时间
type LocalProvider struct {
	BaseURL string
	Dir     string
	Key     []byte
	Now     func() time.Time
}

func NewLocalProvider(baseURL, dir string, key []byte) *LocalProvider {
	return &LocalProvider{BaseURL: strings.TrimRight(baseURL, "/"), Dir: dir, Key: key}
}

func (p *LocalProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func fileResource(fileID string) string {
	return "files/" + fileID
}

func (p *LocalProvider) SignedURL(_ context.Context, archive *models.Archive, ttl time.Duration) (string, error) {
	if p == nil || p.BaseURL == "" || len(p.Key) == 0 {
		return "", ErrProviderNotConfigured
	}
	expires := p.now().Add(ttl)
	sig, err := securestore.SignExpiring(p.Key, fileResource(archive.FileID), expires)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", sig)
	return fmt.Sprintf("%s/api/files/%s?%s", p.BaseURL, url.PathEscape(archive.FileID), q.Encode()), nil
}

// Verify 校验下载地址中的签名与过期时间
func (p *LocalProvider) Verify(fileID, expires, signature string) error {
	if p == nil || len(p.Key) == 0 {
		return ErrProviderNotConfigured
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expires: %w", err)
	}
	return securestore.VerifyExpiring(p.Key, fileResource(fileID), exp, signature, p.now())
}

// Path 把存储键映射到存储目录下的文件，拒绝越出目录的键
func (p *LocalProvider) Path(archive *models.Archive) (string, error) {
	key := archive.StorageKey
	if key == "" {
		key = archive.FileID
	}
	cleaned := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(key))
	full := filepath.Join(p.Dir, cleaned)
	rel, err := filepath.Rel(p.Dir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.New("invalid storage key")
	}
	if _, err := os.Stat(full); err != nil {
		return "", err
	}
	return full, nil
}
