package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"

	"github.com/ourlibrary/ourlibrary/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCServer 以 rpc.ServiceDesc 暴露 Issue
type GRPCServer struct {
	svc *Service
}

func NewGRPCServer(svc *Service) *GRPCServer {
	return &GRPCServer{svc: svc}
}

func stringField(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func (s *GRPCServer) IssueDownloadUrl(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	grant, err := s.svc.Issue(ctx, Request{
		Token:     stringField(in, "token"),
		FileID:    stringField(in, "fileId"),
		Version:   stringField(in, "version"),
		RequestID: stringField(in, "requestId"),
	})
	if err != nil {
		var ie *Error
		if errors.As(err, &ie) && ie.Code != CodeInternal {
			return nil, status.Error(rpc.ToGRPCCode(string(ie.Code)), ie.Message)
		}
		log.Printf("unexpected error issuing download url: %v", err)
		return nil, status.Error(codes.Internal, "Internal server error")
	}
	raw, err := json.Marshal(grant)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ServeGRPC 在 lis 上提供签发服务，返回的 channel 在 Serve 退出时收到其错误
func ServeGRPC(lis net.Listener, svc *Service, opts ...grpc.ServerOption) (*grpc.Server, <-chan error) {
	srv := grpc.NewServer(opts...)
	rpc.RegisterIssuerServer(srv, NewGRPCServer(svc))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	return srv, errCh
}
