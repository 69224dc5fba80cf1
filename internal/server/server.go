// Package server hosts the HTTP API and the gRPC health endpoint.
package server

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewRegistry, NewHTTPServer, NewGRPCServer)

// NewRegistry creates the Prometheus registry served on /metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
