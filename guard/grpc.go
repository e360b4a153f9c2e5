package guard

import (
	"context"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/toolink/quota/meta"
)

// Ensure implementation matches interface.
var _ grpc.ServerStream = (*guardedStream)(nil)

// UnaryServerInterceptor enforces admission control on unary RPCs.
// Denials fail with RESOURCE_EXHAUSTED; a store failure resolved as a denial
// fails with UNAVAILABLE.
func (g *Guard) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = withIncomingIdentity(ctx)

		decision := g.Admit(ctx, info.FullMethod)
		if md := decisionMetadata(decision); md.Len() > 0 {
			if err := grpc.SetHeader(ctx, md); err != nil {
				log.Warn().Err(err).Str("method", info.FullMethod).Msg("failed to set rate limit headers")
			}
		}

		if err := denialStatus(decision, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor enforces admission control once per stream.
func (g *Guard) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := withIncomingIdentity(ss.Context())

		decision := g.Admit(ctx, info.FullMethod)
		if md := decisionMetadata(decision); md.Len() > 0 {
			if err := ss.SetHeader(md); err != nil {
				log.Warn().Err(err).Str("method", info.FullMethod).Msg("failed to set rate limit headers")
			}
		}

		if err := denialStatus(decision, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, &guardedStream{ServerStream: ss, ctx: ctx})
	}
}

// guardedStream exposes the identity-carrying context to stream handlers.
type guardedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *guardedStream) Context() context.Context {
	return s.ctx
}

// withIncomingIdentity attaches identity from incoming gRPC metadata unless an
// earlier interceptor already stored one.
func withIncomingIdentity(ctx context.Context) context.Context {
	if _, ok := meta.FromContext(ctx); ok {
		return ctx
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return meta.FromGRPC(md).WithContext(ctx)
}

func decisionMetadata(d Decision) metadata.MD {
	md := metadata.MD{}
	for key, value := range headerValues(d) {
		md.Set(key, value)
	}
	return md
}

func denialStatus(d Decision, method string) error {
	if d.Allowed {
		return nil
	}
	if d.Unavailable {
		return status.Error(codes.Unavailable, "rate limiter unavailable")
	}
	log.Debug().Str("method", method).Stringer("scope", d.DeniedAt()).Msg("rejecting rpc")
	return status.Errorf(codes.ResourceExhausted, "rate limit exceeded at %s scope", d.DeniedAt())
}
