// Package service exposes the request pipeline over HTTP.
package service

import (
	"TrendGate/internal/biz"

	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewGatewayService,
	wire.Bind(new(Pipeline), new(*biz.Executor)),
)
