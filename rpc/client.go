package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial 建立到签发服务的连接，secure 为 false 时使用明文
func Dial(addr string, secure bool, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if !secure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial issuer %s: %w", addr, err)
	}
	return conn, nil
}

// IssueDownloadUrl 发送 payload 并把响应解码到 out
func (c *Client) IssueDownloadUrl(ctx context.Context, payload map[string]interface{}, out interface{}) error {
	in, err := structpb.NewStruct(payload)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, IssueMethod, in, resp); err != nil {
		return err
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
