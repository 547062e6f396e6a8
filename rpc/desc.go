package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "ourlibrary.issuer.v1.Issuer"
	IssueMethodName = "IssueDownloadUrl"
	IssueMethod     = "/" + ServiceName + "/" + IssueMethodName
)

// IssuerServer 请求与响应均为 google.protobuf.Struct，字段与 HTTP 接口相同
type IssuerServer interface {
	IssueDownloadUrl(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IssuerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: IssueMethodName,
			Handler:    issueHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ourlibrary/issuer/v1/issuer.proto",
}

func RegisterIssuerServer(s grpc.ServiceRegistrar, srv IssuerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func issueHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IssuerServer).IssueDownloadUrl(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: IssueMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IssuerServer).IssueDownloadUrl(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
