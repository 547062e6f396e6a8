package issuer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ourlibrary/ourlibrary/database/models"
)

// S3Provider 使用预签名 GET 地址分发归档
type S3Provider struct {
	bucket  string
	presign *s3.PresignClient
}

type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
}

// NewS3Provider 凭证按 aws 默认链加载（环境变量、共享配置等）
func NewS3Provider(ctx context.Context, opts S3Options) (*S3Provider, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	loaders := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loaders = append(loaders, config.WithRegion(opts.Region))
	}
	if opts.Endpoint != "" {
		loaders = append(loaders, config.WithBaseEndpoint(opts.Endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3ProviderFromConfig(cfg, opts.Bucket, opts.Endpoint != ""), nil
}

func NewS3ProviderFromConfig(cfg aws.Config, bucket string, pathStyle bool) *S3Provider {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if cfg.BaseEndpoint != nil {
			o.BaseEndpoint = cfg.BaseEndpoint
		}
	})
	return &S3Provider{bucket: bucket, presign: s3.NewPresignClient(client)}
}

func (p *S3Provider) SignedURL(ctx context.Context, archive *models.Archive, ttl time.Duration) (string, error) {
	if p == nil || p.presign == nil || p.bucket == "" {
		return "", ErrProviderNotConfigured
	}
	key := archive.StorageKey
	if key == "" {
		key = archive.FileID
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if archive.FileName != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", archive.FileName))
	}
	req, err := p.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return req.URL, nil
}
