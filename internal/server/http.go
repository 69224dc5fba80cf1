package server

import (
	"context"
	"strconv"

	"TrendGate/internal/biz"
	"TrendGate/internal/conf"
	"TrendGate/internal/server/middleware"
	"TrendGate/internal/service"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation names, also used by the admin guard.
const (
	OperationFetch    = "/trendgate.v1.Gateway/Fetch"
	OperationTrends   = "/trendgate.v1.Gateway/Trends"
	OperationStats    = "/trendgate.v1.Gateway/Stats"
	OperationReset    = "/trendgate.v1.Gateway/Reset"
	OperationProfiles = "/trendgate.v1.Gateway/Profiles"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, gateway *service.GatewayService, reg *prometheus.Registry, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	adminToken := ""
	if c != nil {
		adminToken = c.AdminToken
	}
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
			middleware.AdminAuth(adminToken, logHelper, OperationReset),
		),
		http.ErrorEncoder(errorEncoder),
	}
	if c != nil && c.HTTP != nil {
		if c.HTTP.Network != "" {
			opts = append(opts, http.Network(c.HTTP.Network))
		}
		if c.HTTP.Addr != "" {
			opts = append(opts, http.Address(c.HTTP.Addr))
		}
		if c.HTTP.Timeout > 0 {
			opts = append(opts, http.Timeout(c.HTTP.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	registerGatewayHTTPServer(srv, gateway)
	srv.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return srv
}

// errorEncoder adds Retry-After for errors that carry a suggested wait.
func errorEncoder(w http.ResponseWriter, r *http.Request, err error) {
	if wait, ok := biz.SuggestedWait(err); ok && wait > 0 {
		secs := int64(wait.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	http.DefaultErrorEncoder(w, r, err)
}

func registerGatewayHTTPServer(s *http.Server, svc *service.GatewayService) {
	r := s.Route("/")
	r.POST("/v1/fetch", fetchHandler(svc))
	r.POST("/v1/trends", trendsHandler(svc))
	r.GET("/v1/stats", statsHandler(svc))
	r.POST("/v1/reset", resetHandler(svc))
	r.GET("/v1/profiles", profilesHandler(svc))
}

func fetchHandler(svc *service.GatewayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in service.FetchRequest
		if err := ctx.Bind(&in); err != nil {
			return errors.BadRequest(biz.ReasonInvalidRequest, err.Error())
		}
		http.SetOperation(ctx, OperationFetch)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.Fetch(ctx, req.(*service.FetchRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func trendsHandler(svc *service.GatewayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in service.TrendsRequest
		if err := ctx.Bind(&in); err != nil {
			return errors.BadRequest(biz.ReasonInvalidRequest, err.Error())
		}
		http.SetOperation(ctx, OperationTrends)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.Trends(ctx, req.(*service.TrendsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func statsHandler(svc *service.GatewayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationStats)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.Stats(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func resetHandler(svc *service.GatewayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationReset)
		// bind inside the chain so the admin guard sees the request first
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			var in service.ResetRequest
			// an empty body means a plain reset
			if ctx.Request().ContentLength != 0 {
				if err := ctx.Bind(&in); err != nil {
					return nil, errors.BadRequest(biz.ReasonInvalidRequest, err.Error())
				}
			}
			return svc.Reset(c, &in)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func profilesHandler(svc *service.GatewayService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationProfiles)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.Profiles(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
