package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"lidar.app/internal/auth"
	"lidar.app/internal/obs"
)

const healthMethodPrefix = "/grpc.health.v1.Health/"

// GRPCServer implements grpc.health.v1.Health backed by the readiness probe.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
	version   string
}

// NewGRPCServer creates the gRPC health service.
func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCServer{
		readiness: r,
		version:   version,
	}
}

// Check reports SERVING while the readiness probe passes. The empty service
// name and the API service name are known; anything else is NotFound.
func (s *GRPCServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewGRPC builds a gRPC server with logging and bearer authentication
// interceptors and registers the health service.
func NewGRPC(svc *auth.Service, r readinessChecker, version string, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		UnaryRequestID(),
		UnaryLogging(),
		UnaryAuth(svc),
	))
	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, NewGRPCServer(r, version))
	return server
}

// UnaryRequestID attaches x-request-id from metadata, or a new id, to ctx.
func UnaryRequestID() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-request-id"); len(v) > 0 {
				id = strings.TrimSpace(v[0])
			}
		}
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		return handler(obs.WithRequestID(ctx, id), req)
	}
}

// UnaryLogging writes one structured line per call.
func UnaryLogging() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		obs.Info("grpc_request_complete", map[string]any{
			"request_id":  obs.RequestIDFromContext(ctx),
			"method":      info.FullMethod,
			"code":        status.Code(err).String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return resp, err
	}
}

// UnaryAuth requires a valid bearer access token in the authorization
// metadata for every method except the health service.
func UnaryAuth(svc *auth.Service) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if v := md.Get("authorization"); len(v) > 0 {
			header = v[0]
		}
		token, err := extractBearerToken(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		principal, err := svc.Authenticate(ctx, token)
		if errors.Is(err, auth.ErrInvalidToken) {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		if err != nil {
			return nil, status.Error(codes.Internal, "authentication error")
		}
		ctx = auth.ContextWithPrincipal(ctx, principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = auth.WithScope(ctx, auth.ResolveScope(principal))
		return handler(ctx, req)
	}
}
