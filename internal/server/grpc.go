package server

import (
	"pos-ledger/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/grpc"
)

// NewGRPCServer new a gRPC server.
// 账本接口只走 HTTP，这里承载 grpc.health.v1 与反射服务
func NewGRPCServer(c *conf.Bootstrap, logger log.Logger) *grpc.Server {
	var opts = []grpc.ServerOption{
		grpc.Middleware(
			recovery.Recovery(),
			logging.Server(logger),
		),
	}
	if c.Server != nil && c.Server.Grpc != nil {
		if c.Server.Grpc.Network != "" {
			opts = append(opts, grpc.Network(c.Server.Grpc.Network))
		}
		if c.Server.Grpc.Addr != "" {
			opts = append(opts, grpc.Address(c.Server.Grpc.Addr))
		}
		if c.Server.Grpc.Timeout != nil {
			opts = append(opts, grpc.Timeout(c.Server.Grpc.Timeout.AsDuration()))
		}
	}
	return grpc.NewServer(opts...)
}
