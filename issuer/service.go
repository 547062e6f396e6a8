package issuer

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/ourlibrary/ourlibrary/database/archives"
	"github.com/ourlibrary/ourlibrary/database/models"
	"github.com/ourlibrary/ourlibrary/database/tokens"
)

const DefaultURLTTL = 15 * time.Minute

type Request struct {
	Token     string `json:"token"`
	FileID    string `json:"fileId"`
	Version   string `json:"version"`
	RequestID string `json:"requestId,omitempty"`
}

// ArchiveInfo 下发给客户端的归档描述，字段名与清单中的 database_archive 一致
type ArchiveInfo struct {
	FileID      string `json:"fileId"`
	Version     string `json:"version"`
	SHA256      string `json:"sha256,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	InnerPath   string `json:"innerPath,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Tier        string `json:"tier,omitempty"`
}

type Grant struct {
	DownloadURL    string      `json:"downloadUrl"`
	Archive        ArchiveInfo `json:"archive"`
	QuotaRemaining *int        `json:"quotaRemaining"`
	QuotaLimit     *int        `json:"quotaLimit"`
	ExpiresAt      time.Time   `json:"expiresAt"`
}

func ArchiveInfoFrom(a *models.Archive) ArchiveInfo {
	return ArchiveInfo{
		FileID:      a.FileID,
		Version:     a.Version,
		SHA256:      a.SHA256,
		SizeBytes:   a.SizeBytes,
		FileName:    a.FileName,
		InnerPath:   a.InnerPath,
		ContentType: a.ContentType,
		Tier:        a.Tier,
	}
}

type Service struct {
	Provider Provider
	TTL      time.Duration
	Now      func() time.Time
}

func NewService(provider Provider, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Service{Provider: provider, TTL: ttl}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue 校验令牌与归档，生成签名地址并扣减一次次数。
// 同一令牌重复提交相同 RequestID 时重新签发但不再计数
func (s *Service) Issue(ctx context.Context, req Request) (*Grant, error) {
	req.Token = strings.TrimSpace(req.Token)
	req.FileID = strings.TrimSpace(req.FileID)
	req.Version = strings.TrimSpace(req.Version)
	if req.Token == "" || req.FileID == "" || req.Version == "" {
		return nil, newError(CodeInvalidArgument, "token, fileId, and version are required", nil)
	}
	now := s.now()

	tok, err := tokens.Get(req.Token)
	if err != nil {
		return nil, ledgerError(err)
	}
	replay, err := tokens.HasRedemption(tok.ID, req.RequestID)
	if err != nil {
		return nil, newError(CodeInternal, "failed to read redemption", err)
	}
	if replay {
		err = tokens.CheckStatus(tok, now)
	} else {
		err = tokens.CheckUsable(tok, now)
	}
	if err != nil {
		return nil, ledgerError(err)
	}

	archive, err := archives.GetByVersion(req.Version)
	if errors.Is(err, archives.ErrNotFound) {
		return nil, newError(CodeNotFound, "Archive version "+req.Version+" not found", err)
	}
	if err != nil {
		return nil, newError(CodeInternal, "failed to load archive", err)
	}
	if archive.FileID != req.FileID {
		return nil, newError(CodeInvalidArgument, "fileId mismatch for requested version", nil)
	}

	if s.Provider == nil {
		return nil, newError(CodeFailedPrecondition, "Storage provider is not configured", ErrProviderNotConfigured)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	downloadURL, err := s.Provider.SignedURL(ctx, archive, ttl)
	if err != nil {
		if errors.Is(err, ErrProviderNotConfigured) {
			return nil, newError(CodeFailedPrecondition, "Storage provider is not configured", err)
		}
		return nil, newError(CodeFailedPrecondition, "Failed to generate download link", err)
	}
	if downloadURL == "" {
		return nil, newError(CodeFailedPrecondition, "File is not accessible", nil)
	}

	if !replay {
		tok, replay, err = tokens.Consume(tokens.ConsumeParams{
			TokenID:   tok.ID,
			RequestID: req.RequestID,
			FileID:    req.FileID,
			Version:   req.Version,
			Now:       now,
		})
		if err != nil {
			return nil, ledgerError(err)
		}
	}
	if replay {
		log.Printf("replayed download request %s for token %s", req.RequestID, maskToken(tok.ID))
	}

	return &Grant{
		DownloadURL:    downloadURL,
		Archive:        ArchiveInfoFrom(archive),
		QuotaRemaining: tokens.RemainingQuota(tok),
		QuotaLimit:     tok.MaxDownloads,
		ExpiresAt:      now.Add(ttl),
	}, nil
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, tokens.ErrNotFound):
		return newError(CodeNotFound, "Token not found", err)
	case errors.Is(err, tokens.ErrRevoked):
		return newError(CodePermissionDenied, "Token is not active", err)
	case errors.Is(err, tokens.ErrExpired):
		return newError(CodePermissionDenied, "Token expired", err)
	case errors.Is(err, tokens.ErrQuotaExhausted):
		return newError(CodeResourceExhausted, "Token quota exceeded", err)
	default:
		return newError(CodeInternal, "Internal server error", err)
	}
}

func maskToken(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:8] + "****"
}
