// Package transport performs the physical exchanges for the request
// pipeline. Two engines are available: httpcloak for browser fingerprints
// and net/http as the plain fallback.
package transport

import (
	"context"
	"fmt"

	"TrendGate/internal/conf"
	"TrendGate/internal/model"
	pkglog "TrendGate/pkg/log"
	"TrendGate/pkg/proxy"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is transport providers.
var ProviderSet = wire.NewSet(NewRouter)

// Engine names accepted by transport.engine.
const (
	EngineAuto  = "auto"
	EngineCloak = "cloak"
	EngineHTTP  = "http"
)

type engine interface {
	Perform(ctx context.Context, ex *model.Exchange) *model.RawResult
	Close()
}

// Router sends each exchange to the configured engine. In auto mode an
// exchange carrying a fingerprint preset goes through httpcloak and one
// without goes through net/http.
type Router struct {
	mode  string
	cloak engine
	plain engine
	log   *pkglog.LogHelper
}

// NewRouter builds the engines for c.
func NewRouter(c *conf.Transport, logger log.Logger) (*Router, func(), error) {
	tc := &conf.Transport{Engine: EngineAuto}
	if c != nil {
		tc = c
	}
	mode := tc.Engine
	if mode == "" {
		mode = EngineAuto
	}

	plain, err := NewHTTPEngine(tc.ProxyURL, tc.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: %w", err)
	}

	r := &Router{mode: mode, plain: plain, log: pkglog.NewLogHelper(logger)}
	switch mode {
	case EngineAuto, EngineCloak:
		r.cloak = NewCloakEngine(tc.ProxyURL, tc.Timeout)
	case EngineHTTP:
	default:
		return nil, nil, fmt.Errorf("transport: unknown engine %q", mode)
	}

	kvs := []interface{}{"engine", mode, "timeout", tc.Timeout}
	if tc.ProxyURL != "" {
		kvs = append(kvs, "proxy", proxy.Redact(tc.ProxyURL))
	}
	r.log.Startup("Transport ready", kvs...)

	cleanup := func() {
		r.Close()
	}
	return r, cleanup, nil
}

// Perform runs ex on the selected engine.
func (r *Router) Perform(ctx context.Context, ex *model.Exchange) *model.RawResult {
	if r.engineFor(ex) == EngineCloak {
		return r.cloak.Perform(ctx, ex)
	}
	return r.plain.Perform(ctx, ex)
}

func (r *Router) engineFor(ex *model.Exchange) string {
	switch r.mode {
	case EngineCloak:
		return EngineCloak
	case EngineHTTP:
		return EngineHTTP
	}
	if ex.Fingerprint != "" && r.cloak != nil {
		return EngineCloak
	}
	return EngineHTTP
}

// Close releases both engines.
func (r *Router) Close() {
	if r.cloak != nil {
		r.cloak.Close()
	}
	r.plain.Close()
}
