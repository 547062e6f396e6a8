package tokenclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ourlibrary/ourlibrary/rpc"
	"google.golang.org/grpc/status"
)

const DefaultHTTPTimeout = 15 * time.Second

// HTTPTransport 以 JSON POST 调用签发接口
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPTransport(endpoint string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPTransport{Endpoint: strings.TrimSpace(endpoint), Client: client}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (t *HTTPTransport) Issue(ctx context.Context, req IssueRequest) (*Grant, error) {
	if t.Endpoint == "" {
		return nil, ErrEndpointNotConfigured
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request signed url: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read issuer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Code != "" {
			return nil, &IssuerError{Code: eb.Code, Message: eb.Message, Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("issuer responded with status %d", resp.StatusCode)
	}

	var grant Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("decode issuer response: %w", err)
	}
	if grant.URL == "" {
		return nil, fmt.Errorf("issuer response missing downloadUrl")
	}
	return &grant, nil
}

// GRPCTransport 通过 rpc.Client 调用签发服务
type GRPCTransport struct {
	Client *rpc.Client
}

func NewGRPCTransport(client *rpc.Client) *GRPCTransport {
	return &GRPCTransport{Client: client}
}

func (t *GRPCTransport) Issue(ctx context.Context, req IssueRequest) (*Grant, error) {
	if t.Client == nil {
		return nil, ErrEndpointNotConfigured
	}
	payload := map[string]interface{}{
		"token":     req.Token,
		"fileId":    req.FileID,
		"version":   req.Version,
		"requestId": req.RequestID,
	}
	var grant Grant
	if err := t.Client.IssueDownloadUrl(ctx, payload, &grant); err != nil {
		if st, ok := status.FromError(err); ok {
			if code := rpc.FromGRPCCode(st.Code()); code != "" {
				return nil, &IssuerError{Code: code, Message: st.Message()}
			}
		}
		return nil, fmt.Errorf("request signed url: %w", err)
	}
	if grant.URL == "" {
		return nil, fmt.Errorf("issuer response missing downloadUrl")
	}
	return &grant, nil
}
