package rpc

import "google.golang.org/grpc/codes"

var codeTable = map[string]codes.Code{
	"invalid-argument":    codes.InvalidArgument,
	"failed-precondition": codes.FailedPrecondition,
	"permission-denied":   codes.PermissionDenied,
	"not-found":           codes.NotFound,
	"resource-exhausted":  codes.ResourceExhausted,
	"internal":            codes.Internal,
}

// ToGRPCCode 把签发错误码映射为同名 gRPC 状态码
func ToGRPCCode(code string) codes.Code {
	if c, ok := codeTable[code]; ok {
		return c
	}
	return codes.Internal
}

// FromGRPCCode 反向映射，未知状态码返回空字符串
func FromGRPCCode(code codes.Code) string {
	for k, v := range codeTable {
		if v == code {
			return k
		}
	}
	return ""
}
