package tokenclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/ourlibrary/ourlibrary/client/manifest"
	gocache "github.com/patrickmn/go-cache"
)

const DefaultCacheTTL = 5 * time.Minute

var (
	ErrTokenMissing          = errors.New("distribution token is required")
	ErrFileIDMissing         = errors.New("fileId is required")
	ErrVersionMissing        = errors.New("version is required")
	ErrEndpointNotConfigured = errors.New("token service endpoint not configured")
)

// IssuerError 签发服务返回的错误码，原样透传给调用方
type IssuerError struct {
	Code    string
	Message string
	Status  int
}

func (e *IssuerError) Error() string {
	if e.Message == "" {
		return "issuer error: " + e.Code
	}
	return fmt.Sprintf("issuer error: %s: %s", e.Code, e.Message)
}

type Request struct {
	Token        string
	FileID       string
	Version      string
	ForceRefresh bool
}

// IssueRequest 发送给签发服务的载荷，RequestID 在重试间保持不变
type IssueRequest struct {
	Token     string `json:"token"`
	FileID    string `json:"fileId"`
	Version   string `json:"version"`
	RequestID string `json:"requestId,omitempty"`
}

type Grant struct {
	URL            string                      `json:"downloadUrl"`
	Archive        *manifest.ArchiveDescriptor `json:"archive"`
	QuotaRemaining *int                        `json:"quotaRemaining"`
	QuotaLimit     *int                        `json:"quotaLimit"`
	ExpiresAt      time.Time                   `json:"expiresAt"`
	IssuedAt       time.Time                   `json:"-"`
}

// Transport 与签发服务通信的方式（HTTP 或 gRPC）
type Transport interface {
	Issue(ctx context.Context, req IssueRequest) (*Grant, error)
}

type Options struct {
	Transport Transport
	// CacheTTL 为 0 时使用 DefaultCacheTTL
	CacheTTL time.Duration
	// MaxRetries 传输失败时的重试次数，签发服务明确返回的错误不重试
	MaxRetries uint64
	// RetryInterval 首次重试前的等待，0 使用 backoff 默认值
	RetryInterval time.Duration
	Log           func(string)
	Now           func() time.Time
}

// Service 每个实例持有自己的缓存，可被多个下载并发调用
type Service struct {
	transport  Transport
	cache      *gocache.Cache
	ttl        time.Duration
	maxRetries uint64
	interval   time.Duration
	log        func(string)
	now        func() time.Time
}

func New(opts Options) *Service {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	s := &Service{
		transport:  opts.Transport,
		cache:      gocache.New(ttl, 2*ttl),
		ttl:        ttl,
		maxRetries: opts.MaxRetries,
		interval:   opts.RetryInterval,
		log:        opts.Log,
		now:        opts.Now,
	}
	if s.log == nil {
		s.log = func(string) {}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func cacheKey(req Request) string {
	return req.Token + "\x00" + req.FileID + "\x00" + req.Version
}

// RequestSignedURL 相同 (token, fileId, version) 在 TTL 内直接返回缓存，ForceRefresh 强制重新签发
func (s *Service) RequestSignedURL(ctx context.Context, req Request) (*Grant, error) {
	req.Token = strings.TrimSpace(req.Token)
	req.FileID = strings.TrimSpace(req.FileID)
	req.Version = strings.TrimSpace(req.Version)
	switch {
	case req.Token == "":
		return nil, ErrTokenMissing
	case req.FileID == "":
		return nil, ErrFileIDMissing
	case req.Version == "":
		return nil, ErrVersionMissing
	}
	if s.transport == nil {
		return nil, ErrEndpointNotConfigured
	}

	key := cacheKey(req)
	if !req.ForceRefresh {
		if v, ok := s.cache.Get(key); ok {
			g := v.(Grant)
			return g.clone(), nil
		}
	}

	payload := IssueRequest{
		Token:     req.Token,
		FileID:    req.FileID,
		Version:   req.Version,
		RequestID: uuid.NewString(),
	}
	var grant *Grant
	operation := func() error {
		g, err := s.transport.Issue(ctx, payload)
		if err != nil {
			var ie *IssuerError
			if errors.As(err, &ie) || errors.Is(err, ErrEndpointNotConfigured) {
				return backoff.Permanent(err)
			}
			return err
		}
		grant = g
		return nil
	}

	var err error
	if s.maxRetries > 0 {
		exp := backoff.NewExponentialBackOff()
		if s.interval > 0 {
			exp.InitialInterval = s.interval
		}
		b := backoff.WithContext(backoff.WithMaxRetries(exp, s.maxRetries), ctx)
		err = backoff.RetryNotify(operation, b, func(err error, d time.Duration) {
			s.log(fmt.Sprintf("Signed URL request failed, retrying in %s: %v", d, err))
		})
	} else {
		err = operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	grant.IssuedAt = now
	ttl := s.ttl
	if !grant.ExpiresAt.IsZero() {
		// 缓存不能比地址本身活得更久
		if remaining := grant.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		s.cache.Set(key, *grant.clone(), ttl)
	} else {
		s.cache.Delete(key)
	}
	return grant.clone(), nil
}

// clone 深拷贝指针字段，缓存中的条目不与调用方共享内存
func (g *Grant) clone() *Grant {
	out := *g
	if g.Archive != nil {
		a := *g.Archive
		out.Archive = &a
	}
	if g.QuotaRemaining != nil {
		v := *g.QuotaRemaining
		out.QuotaRemaining = &v
	}
	if g.QuotaLimit != nil {
		v := *g.QuotaLimit
		out.QuotaLimit = &v
	}
	return &out
}
