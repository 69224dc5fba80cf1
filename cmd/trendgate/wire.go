//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"TrendGate/internal/biz"
	"TrendGate/internal/conf"
	"TrendGate/internal/data"
	"TrendGate/internal/server"
	"TrendGate/internal/service"
	"TrendGate/internal/transport"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Gate, *conf.Breaker, *conf.Degradation, *conf.Identity, *conf.Transport, *conf.Executor, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		transport.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newApp,
	))
}
