package conf

import "time"

// Bootstrap is the root configuration tree.
type Bootstrap struct {
	Server      *Server
	Data        *Data
	Gate        *Gate
	Breaker     *Breaker
	Degradation *Degradation
	Identity    *Identity
	Transport   *Transport
	Executor    *Executor
	Log         *Log
}

// Server holds listener settings for the admin/API servers.
type Server struct {
	HTTP       *Listener
	GRPC       *Listener
	AdminToken string // guards /v1/reset when set
}

// Listener describes one network listener.
type Listener struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds storage backends.
type Data struct {
	Database *Database
	Redis    *Redis
	Session  *Session
}

// Database is only required when the session driver is mysql.
type Database struct {
	Driver string
	Source string
}

// Redis connection settings.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Session controls where the identity session record is persisted.
type Session struct {
	Driver        string // file, redis or mysql
	Path          string // file driver only
	Key           string // record key for redis and mysql
	TTL           time.Duration
	EncryptionKey string // optional, 32 bytes enables AES-256-GCM at rest
}

// Gate configures the admission gate.
type Gate struct {
	RequestsPerHour int
	Window          time.Duration
	BaseDelay       time.Duration
	MaxMultiplier   float64
	MaxQuotaWait    time.Duration // 0 waits for the window, >0 fails fast past this wait
	PersistWindow   bool          // keep grant timestamps in redis across restarts
	LedgerKey       string
}

// Breaker configures the circuit breaker.
type Breaker struct {
	FailureThreshold int
	CoolDown         time.Duration
	MaxCoolDown      time.Duration
}

// Degradation configures the priority admission controller.
type Degradation struct {
	MinorThreshold    int
	MajorThreshold    int
	RecoveryThreshold int
	HealthyThreshold  int
}

// Identity configures profile selection, warmup and persistence cadence.
type Identity struct {
	ProfilesFile         string
	Seed                 int64 // 0 seeds from the clock
	WarmupEnabled        bool
	WarmupURLs           []string
	WarmupMinDelay       time.Duration
	WarmupMaxDelay       time.Duration
	BlockTTL             time.Duration
	PersistEveryExchange bool
	CheckpointSpec       string // cron spec with seconds field
}

// Transport selects the HTTP engine.
type Transport struct {
	Engine   string // auto, cloak or http
	ProxyURL string
	Timeout  time.Duration
}

// Executor configures the retry loop.
type Executor struct {
	MaxRetries          int
	QuotaExhaustedAfter time.Duration
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
