// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with TRENDGATE_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Parameters:
//   - configPath: Path to the configuration file, empty for defaults only
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TRENDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short names kept for container deployments
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "TRENDGATE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "TRENDGATE_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.session.encryption_key", "SESSION_ENCRYPTION_KEY", "TRENDGATE_DATA_SESSION_ENCRYPTION_KEY")
	_ = v.BindEnv("transport.proxy_url", "TRENDGATE_PROXY", "TRENDGATE_TRANSPORT_PROXY_URL")
	_ = v.BindEnv("server.admin_token", "TRENDGATE_ADMIN_TOKEN", "TRENDGATE_SERVER_ADMIN_TOKEN")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &Listener{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
			GRPC: &Listener{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: v.GetDuration("server.grpc.timeout"),
			},
			AdminToken: v.GetString("server.admin_token"),
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
			Session: &Session{
				Driver:        strings.ToLower(v.GetString("data.session.driver")),
				Path:          v.GetString("data.session.path"),
				Key:           v.GetString("data.session.key"),
				TTL:           v.GetDuration("data.session.ttl"),
				EncryptionKey: v.GetString("data.session.encryption_key"),
			},
		},
		Gate: &Gate{
			RequestsPerHour: v.GetInt("gate.requests_per_hour"),
			Window:          v.GetDuration("gate.window"),
			BaseDelay:       v.GetDuration("gate.base_delay"),
			MaxMultiplier:   v.GetFloat64("gate.max_multiplier"),
			MaxQuotaWait:    v.GetDuration("gate.max_quota_wait"),
			PersistWindow:   v.GetBool("gate.persist_window"),
			LedgerKey:       v.GetString("gate.ledger_key"),
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			CoolDown:         v.GetDuration("breaker.cool_down"),
			MaxCoolDown:      v.GetDuration("breaker.max_cool_down"),
		},
		Degradation: &Degradation{
			MinorThreshold:    v.GetInt("degradation.minor_threshold"),
			MajorThreshold:    v.GetInt("degradation.major_threshold"),
			RecoveryThreshold: v.GetInt("degradation.recovery_threshold"),
			HealthyThreshold:  v.GetInt("degradation.healthy_threshold"),
		},
		Identity: &Identity{
			ProfilesFile:         v.GetString("identity.profiles_file"),
			Seed:                 v.GetInt64("identity.seed"),
			WarmupEnabled:        v.GetBool("identity.warmup_enabled"),
			WarmupURLs:           v.GetStringSlice("identity.warmup_urls"),
			WarmupMinDelay:       v.GetDuration("identity.warmup_min_delay"),
			WarmupMaxDelay:       v.GetDuration("identity.warmup_max_delay"),
			BlockTTL:             v.GetDuration("identity.block_ttl"),
			PersistEveryExchange: v.GetBool("identity.persist_every_exchange"),
			CheckpointSpec:       v.GetString("identity.checkpoint_spec"),
		},
		Transport: &Transport{
			Engine:   strings.ToLower(v.GetString("transport.engine")),
			ProxyURL: v.GetString("transport.proxy_url"),
			Timeout:  v.GetDuration("transport.timeout"),
		},
		Executor: &Executor{
			MaxRetries:          v.GetInt("executor.max_retries"),
			QuotaExhaustedAfter: v.GetDuration("executor.quota_exhausted_after"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("data.session.driver", "file")
	v.SetDefault("data.session.path", ".trendgate/session.json")
	v.SetDefault("data.session.key", "default")

	// Gate defaults
	v.SetDefault("gate.requests_per_hour", 200)
	v.SetDefault("gate.window", time.Hour)
	v.SetDefault("gate.base_delay", 15*time.Second)
	v.SetDefault("gate.max_multiplier", 3.0)
	v.SetDefault("gate.ledger_key", "trendgate:gate:grants")

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 10)
	v.SetDefault("breaker.cool_down", 5*time.Minute)
	v.SetDefault("breaker.max_cool_down", time.Hour)

	// Degradation defaults
	v.SetDefault("degradation.minor_threshold", 5)
	v.SetDefault("degradation.major_threshold", 10)
	v.SetDefault("degradation.recovery_threshold", 3)
	v.SetDefault("degradation.healthy_threshold", 6)

	// Identity defaults
	v.SetDefault("identity.warmup_enabled", true)
	v.SetDefault("identity.warmup_urls", []string{
		"https://trends.google.com/trends/",
		"https://trends.google.com/trends/explore",
		"https://trends.google.com/trends/trendingsearches/daily?geo=US",
	})
	v.SetDefault("identity.warmup_min_delay", 500*time.Millisecond)
	v.SetDefault("identity.warmup_max_delay", 2500*time.Millisecond)
	v.SetDefault("identity.block_ttl", 30*time.Minute)
	v.SetDefault("identity.checkpoint_spec", "0 */5 * * * *")

	// Transport defaults
	v.SetDefault("transport.engine", "auto")
	v.SetDefault("transport.timeout", 30*time.Second)

	// Executor defaults
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.quota_exhausted_after", time.Hour)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing every invalid field.
func Validate(bc *Bootstrap) error {
	var invalid []string

	if bc.Gate == nil || bc.Gate.RequestsPerHour <= 0 {
		invalid = append(invalid, "gate.requests_per_hour (must be > 0)")
	}
	if bc.Gate == nil || bc.Gate.BaseDelay < 0 {
		invalid = append(invalid, "gate.base_delay (must be >= 0)")
	}
	if bc.Gate == nil || bc.Gate.MaxMultiplier < 1 {
		invalid = append(invalid, "gate.max_multiplier (must be >= 1)")
	}
	if bc.Gate != nil && bc.Gate.PersistWindow && (bc.Data == nil || bc.Data.Redis == nil || bc.Data.Redis.Addr == "") {
		invalid = append(invalid, "data.redis.addr (required by gate.persist_window)")
	}
	if bc.Breaker == nil || bc.Breaker.FailureThreshold <= 0 {
		invalid = append(invalid, "breaker.failure_threshold (must be > 0)")
	}
	if bc.Degradation != nil && bc.Degradation.MajorThreshold < bc.Degradation.MinorThreshold {
		invalid = append(invalid, "degradation.major_threshold (must be >= minor_threshold)")
	}
	if bc.Degradation != nil && bc.Degradation.HealthyThreshold < bc.Degradation.RecoveryThreshold {
		invalid = append(invalid, "degradation.healthy_threshold (must be >= recovery_threshold)")
	}
	if bc.Identity != nil && bc.Identity.WarmupMaxDelay < bc.Identity.WarmupMinDelay {
		invalid = append(invalid, "identity.warmup_max_delay (must be >= warmup_min_delay)")
	}

	if bc.Data != nil && bc.Data.Session != nil {
		switch bc.Data.Session.Driver {
		case "file":
			if bc.Data.Session.Path == "" {
				invalid = append(invalid, "data.session.path")
			}
		case "redis":
		case "mysql":
			if bc.Data.Database == nil || bc.Data.Database.Source == "" {
				invalid = append(invalid, "data.database.source (MYSQL_DSN)")
			}
		default:
			invalid = append(invalid, "data.session.driver (file|redis|mysql)")
		}
		if k := bc.Data.Session.EncryptionKey; k != "" && len(k) != 32 {
			invalid = append(invalid, "data.session.encryption_key (must be 32 bytes)")
		}
	}

	if bc.Transport != nil {
		switch bc.Transport.Engine {
		case "auto", "cloak", "http":
		default:
			invalid = append(invalid, "transport.engine (auto|cloak|http)")
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration fields: %s", strings.Join(invalid, ", "))
	}

	return nil
}
