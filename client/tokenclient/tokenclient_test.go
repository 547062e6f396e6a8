package tokenclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ourlibrary/ourlibrary/client/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	calls    int
	ids      []string
	failures int
	err      error
	expires  time.Time
}

func (f *fakeTransport) Issue(_ context.Context, req IssueRequest) (*Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ids = append(f.ids, req.RequestID)
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	if f.err != nil {
		return nil, f.err
	}
	remaining := 10 - f.calls
	return &Grant{
		URL:            "https://cdn.example/" + req.FileID + "?n=" + req.RequestID,
		Archive:        &manifest.ArchiveDescriptor{FileID: req.FileID, SHA256: "abc"},
		QuotaRemaining: &remaining,
		ExpiresAt:      f.expires,
	}, nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRequestValidation(t *testing.T) {
	svc := New(Options{Transport: &fakeTransport{}})
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"缺少令牌", Request{FileID: "f", Version: "1.0.0"}, ErrTokenMissing},
		{"令牌仅空白", Request{Token: "  ", FileID: "f", Version: "1.0.0"}, ErrTokenMissing},
		{"缺少文件", Request{Token: "t", Version: "1.0.0"}, ErrFileIDMissing},
		{"缺少版本", Request{Token: "t", FileID: "f"}, ErrVersionMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RequestSignedURL(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := New(Options{}).RequestSignedURL(context.Background(), Request{Token: "t", FileID: "f", Version: "1"})
	assert.ErrorIs(t, err, ErrEndpointNotConfigured)
}

func TestCacheWithinTTL(t *testing.T) {
	ft := &fakeTransport{}
	svc := New(Options{Transport: ft, CacheTTL: 80 * time.Millisecond})
	req := Request{Token: "tok", FileID: "file-1", Version: "1.0.0"}

	first, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, ft.count())
	assert.Equal(t, first.URL, second.URL)

	// 修改返回值不影响缓存
	second.URL = "mutated"
	third, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.URL, third.URL)

	// 不同版本是不同的缓存项
	_, err = svc.RequestSignedURL(context.Background(), Request{Token: "tok", FileID: "file-1", Version: "1.0.1"})
	require.NoError(t, err)
	assert.Equal(t, 2, ft.count())

	time.Sleep(120 * time.Millisecond)
	after, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, ft.count())
	assert.NotEqual(t, first.URL, after.URL)
}

func TestForceRefresh(t *testing.T) {
	ft := &fakeTransport{}
	svc := New(Options{Transport: ft})
	req := Request{Token: "tok", FileID: "file-1", Version: "1.0.0"}

	first, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	req.ForceRefresh = true
	refreshed, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, ft.count())
	assert.NotEqual(t, first.URL, refreshed.URL)

	// 强制刷新后的结果重新进入缓存
	req.ForceRefresh = false
	cached, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, refreshed.URL, cached.URL)
	assert.Equal(t, 2, ft.count())
}

func TestExpiredGrantNotCached(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ft := &fakeTransport{expires: now.Add(-time.Second)}
	svc := New(Options{Transport: ft, Now: func() time.Time { return now }})
	req := Request{Token: "tok", FileID: "file-1", Version: "1.0.0"}

	_, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, ft.count())
}

func TestIssuerErrorPassthrough(t *testing.T) {
	ft := &fakeTransport{err: &IssuerError{Code: "resource-exhausted", Message: "Token quota exceeded"}}
	svc := New(Options{Transport: ft, MaxRetries: 3})

	_, err := svc.RequestSignedURL(context.Background(), Request{Token: "tok", FileID: "f", Version: "1.0.0"})
	var ie *IssuerError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "resource-exhausted", ie.Code)
	assert.Equal(t, "Token quota exceeded", ie.Message)
	// 签发服务明确拒绝时不重试
	assert.Equal(t, 1, ft.count())

	// 失败结果不缓存
	ft.err = nil
	_, err = svc.RequestSignedURL(context.Background(), Request{Token: "tok", FileID: "f", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, 2, ft.count())
}

func TestRetryReusesRequestID(t *testing.T) {
	ft := &fakeTransport{failures: 2}
	var logs []string
	svc := New(Options{Transport: ft, MaxRetries: 3, RetryInterval: time.Millisecond, Log: func(s string) { logs = append(logs, s) }})

	grant, err := svc.RequestSignedURL(context.Background(), Request{Token: "tok", FileID: "f", Version: "1.0.0"})
	require.NoError(t, err)
	assert.NotEmpty(t, grant.URL)
	require.Len(t, ft.ids, 3)
	assert.NotEmpty(t, ft.ids[0])
	assert.Equal(t, ft.ids[0], ft.ids[1])
	assert.Equal(t, ft.ids[0], ft.ids[2])
	assert.Len(t, logs, 2)
}

func TestNoRetryByDefault(t *testing.T) {
	ft := &fakeTransport{failures: 1}
	svc := New(Options{Transport: ft})

	_, err := svc.RequestSignedURL(context.Background(), Request{Token: "tok", FileID: "f", Version: "1.0.0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1, ft.count())
}

func TestCancelledContextStopsRetry(t *testing.T) {
	ft := &fakeTransport{failures: 100}
	svc := New(Options{Transport: ft, MaxRetries: 50})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RequestSignedURL(ctx, Request{Token: "tok", FileID: "f", Version: "1.0.0"})
	require.Error(t, err)
	assert.LessOrEqual(t, ft.count(), 1)
}

func TestCachedGrantIsIsolated(t *testing.T) {
	svc := New(Options{Transport: &fakeTransport{}})
	req := Request{Token: "tok", FileID: "file-1", Version: "1.0.0"}

	first, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	first.Archive.SHA256 = "tampered"
	*first.QuotaRemaining = -1

	second, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "abc", second.Archive.SHA256)
	assert.Equal(t, 9, *second.QuotaRemaining)
	second.Archive.SHA256 = "again"

	third, err := svc.RequestSignedURL(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "abc", third.Archive.SHA256)
}
