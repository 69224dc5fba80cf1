package server

import (
	"TrendGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	grpcgo "google.golang.org/grpc"
)

// NewGRPCServer new a gRPC server. It carries the standard grpc.health.v1
// service so orchestrators can check the process.
func NewGRPCServer(c *conf.Server, logger log.Logger) *grpc.Server {
	var opts = []grpc.ServerOption{
		grpc.Middleware(
			recovery.Recovery(),
		),
		grpc.Options(grpcgo.MaxRecvMsgSize(1 << 20)),
	}
	if c != nil && c.GRPC != nil {
		if c.GRPC.Network != "" {
			opts = append(opts, grpc.Network(c.GRPC.Network))
		}
		if c.GRPC.Addr != "" {
			opts = append(opts, grpc.Address(c.GRPC.Addr))
		}
		if c.GRPC.Timeout > 0 {
			opts = append(opts, grpc.Timeout(c.GRPC.Timeout))
		}
	}
	srv := grpc.NewServer(opts...)
	log.NewHelper(logger).Infow("msg", "gRPC health service registered", "service", "grpc.health.v1.Health")
	return srv
}
