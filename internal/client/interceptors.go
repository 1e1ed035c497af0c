package client

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UserIDMetadataKey carries the acting user on gRPC calls.
const UserIDMetadataKey = "x-user-id"

type userIDKey struct{}

// WithUserID stores the acting user in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the acting user stored in ctx, or "".
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey{}).(string)
	return v
}

// UserIDServerInterceptor copies the x-user-id metadata of incoming calls
// into the context.
func UserIDServerInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(UserIDMetadataKey); len(vals) > 0 {
			ctx = WithUserID(ctx, strings.TrimSpace(vals[0]))
		}
	}
	return handler(ctx, req)
}

// ForwardUserID is a unary client interceptor that propagates the acting
// user to outgoing service-to-service calls.
func ForwardUserID(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = metadata.NewOutgoingContext(ctx, md)
	} else if uid := UserID(ctx); uid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, UserIDMetadataKey, uid)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}
