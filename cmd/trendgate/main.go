// Package main is the entry point of the TrendGate service.
// It initializes the Kratos application with gRPC and HTTP servers.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"TrendGate/internal/biz"
	"TrendGate/internal/conf"
	zapLogger "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "trendgate"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, gs *grpc.Server, hs *http.Server, exec *biz.Executor, ic *conf.Identity) *kratos.App {
	var checkpoint *checkpointJob
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			gs,
			hs,
		),
		kratos.AfterStart(func(context.Context) error {
			spec := ""
			if ic != nil {
				spec = ic.CheckpointSpec
			}
			checkpoint = startCheckpointCron(exec, spec, logger)
			return nil
		}),
		kratos.BeforeStop(func(ctx context.Context) error {
			checkpoint.Stop()
			return nil
		}),
		kratos.AfterStop(func(context.Context) error {
			// the stop context may already be spent
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := exec.Close(ctx); err != nil {
				log.NewHelper(logger).Errorw("msg", "failed to persist session on shutdown", "error", err)
			}
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable and CLI flag support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize Zap logger from configuration
	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	// Create Kratos adapter for Zap logger
	logger := zapLogger.NewKratosAdapter(zapLog)

	// Add context fields to logger
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	zapLogger.NewLogHelper(logger).Startup(
		"TrendGate service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"session.driver", bc.Data.Session.Driver,
		"transport.engine", bc.Transport.Engine,
		"gate.requests_per_hour", bc.Gate.RequestsPerHour,
	)

	app, cleanup, err := wireApp(
		bc.Server, bc.Data, bc.Gate, bc.Breaker, bc.Degradation,
		bc.Identity, bc.Transport, bc.Executor, logger,
	)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
