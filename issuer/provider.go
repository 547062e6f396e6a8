package issuer

import (
	"context"
	"errors"
	"time"

	"github.com/ourlibrary/ourlibrary/database/models"
)

var ErrProviderNotConfigured = errors.New("storage provider not configured")

// Provider 为归档生成有时效的下载地址
type Provider interface {
	SignedURL(ctx context.Context, archive *models.Archive, ttl time.Duration) (string, error)
}
