// Package biz contains business logic layer implementations.
// It holds the request pipeline: admission gate, circuit breaker,
// degradation controller, identity manager and the executor tying them together.
package biz

import (
	"TrendGate/internal/conf"
	"TrendGate/internal/data"
	"TrendGate/internal/transport"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewMetrics,
	NewAdmissionGate,
	NewCircuitBreaker,
	NewDegradationController,
	NewIdentityManager,
	NewQuotaAnalyzer,
	NewExecutor,
	NewProfileTableFromConf,
	ProvideSessionRepo,
	ProvideGrantLedger,
	// Bind transport implementation to biz layer interface
	wire.Bind(new(Transport), new(*transport.Router)),
)

// NewProfileTableFromConf loads identity.profiles_file, or the built-in
// table when it is unset.
func NewProfileTableFromConf(c *conf.Identity) (*ProfileTable, error) {
	if c == nil {
		return LoadProfileTable("")
	}
	return LoadProfileTable(c.ProfilesFile)
}

// ProvideSessionRepo adapts the configured data store.
func ProvideSessionRepo(s data.SessionStore) SessionRepo {
	return s
}

// ProvideGrantLedger returns nil when the window is not persisted, so the
// gate sees a nil interface rather than a nil pointer.
func ProvideGrantLedger(l *data.RedisGrantLedger) GrantLedger {
	if l == nil {
		return nil
	}
	return l
}
