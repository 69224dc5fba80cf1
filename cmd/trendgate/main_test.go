package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"TrendGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireApp_FileSessionGraph(t *testing.T) {
	dir := t.TempDir()
	logger := log.NewStdLogger(os.Stdout)

	app, cleanup, err := wireApp(
		&conf.Server{
			HTTP: &conf.Listener{Network: "tcp", Addr: "127.0.0.1:0"},
			GRPC: &conf.Listener{Network: "tcp", Addr: "127.0.0.1:0"},
		},
		&conf.Data{Session: &conf.Session{Driver: "file", Path: filepath.Join(dir, "session.json")}},
		&conf.Gate{RequestsPerHour: 100, Window: time.Hour, BaseDelay: time.Second, MaxMultiplier: 3},
		&conf.Breaker{FailureThreshold: 10, CoolDown: time.Minute, MaxCoolDown: time.Hour},
		&conf.Degradation{MinorThreshold: 5, MajorThreshold: 10, RecoveryThreshold: 3, HealthyThreshold: 6},
		&conf.Identity{CheckpointSpec: "0 */5 * * * *"},
		&conf.Transport{Engine: "http", Timeout: time.Second},
		&conf.Executor{MaxRetries: 3, QuotaExhaustedAfter: time.Hour},
		logger,
	)
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.NotPanics(t, cleanup)
}

func TestWireApp_BadSessionDriver(t *testing.T) {
	_, _, err := wireApp(
		&conf.Server{},
		&conf.Data{Session: &conf.Session{Driver: "etcd"}},
		&conf.Gate{RequestsPerHour: 100, Window: time.Hour},
		&conf.Breaker{},
		&conf.Degradation{},
		&conf.Identity{},
		&conf.Transport{Engine: "http"},
		&conf.Executor{},
		log.NewStdLogger(os.Stdout),
	)
	assert.Error(t, err)
}
