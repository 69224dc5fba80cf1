package biz

import (
	"sync"

	"TrendGate/internal/conf"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// Level is the degradation level.
type Level int

const (
	LevelHealthy Level = iota
	LevelDegradedMinor
	LevelDegradedMajor
	LevelRecovery
)

func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelDegradedMinor:
		return "degraded_minor"
	case LevelDegradedMajor:
		return "degraded_major"
	case LevelRecovery:
		return "recovery"
	}
	return "unknown"
}

// severity orders levels for the no-downgrade-during-a-streak rule.
func (l Level) severity() int {
	switch l {
	case LevelDegradedMinor:
		return 1
	case LevelDegradedMajor:
		return 2
	}
	return 0
}

// admits is the priority x level admission table.
var admits = map[Level][PriorityHigh + 1]bool{
	//                   LOW    MEDIUM HIGH
	LevelHealthy:       {true, true, true},
	LevelDegradedMinor: {false, true, true},
	LevelDegradedMajor: {false, false, true},
	LevelRecovery:      {true, true, true},
}

// DegradationController sheds lower-priority work under sustained throttling.
type DegradationController struct {
	mu sync.Mutex

	minorAt    int
	majorAt    int
	recoveryAt int
	healthyAt  int
	metrics    *Metrics
	log        *pkglog.LogHelper

	level        Level
	rateLimitRun int
	successRun   int
	skipped      int64
	levelChanges int64
}

// NewDegradationController creates a controller at LevelHealthy.
func NewDegradationController(c *conf.Degradation, metrics *Metrics, logger log.Logger) *DegradationController {
	d := &DegradationController{
		minorAt:    c.MinorThreshold,
		majorAt:    c.MajorThreshold,
		recoveryAt: c.RecoveryThreshold,
		healthyAt:  c.HealthyThreshold,
		metrics:    metrics,
		log:        pkglog.NewLogHelper(logger),
	}
	if d.minorAt <= 0 {
		d.minorAt = 5
	}
	if d.majorAt < d.minorAt {
		d.majorAt = 2 * d.minorAt
	}
	if d.recoveryAt <= 0 {
		d.recoveryAt = 3
	}
	if d.healthyAt < d.recoveryAt {
		d.healthyAt = 2 * d.recoveryAt
	}
	return d
}

// Admit reports whether work of priority p may run at the current level.
// A rejection is a policy decision, not an error.
func (d *DegradationController) Admit(p Priority) (bool, Level) {
	if !p.valid() {
		p = PriorityMedium
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	ok := admits[d.level][p]
	if !ok {
		d.skipped++
	}
	return ok, d.level
}

// Record feeds one outcome.
func (d *DegradationController) Record(kind OutcomeKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	from := d.level
	switch {
	case kind == OutcomeSuccess:
		d.rateLimitRun = 0
		d.successRun++
		switch {
		case d.level == LevelRecovery && d.successRun >= d.healthyAt:
			d.level = LevelHealthy
		case (d.level == LevelDegradedMinor || d.level == LevelDegradedMajor) && d.successRun >= d.recoveryAt:
			d.level = LevelRecovery
		}
	case kind.IsRateLimit():
		d.successRun = 0
		d.rateLimitRun++
		if d.level == LevelRecovery {
			d.level = LevelDegradedMajor
			break
		}
		target := LevelHealthy
		switch {
		case d.rateLimitRun >= d.majorAt:
			target = LevelDegradedMajor
		case d.rateLimitRun >= d.minorAt:
			target = LevelDegradedMinor
		}
		if target.severity() > d.level.severity() {
			d.level = target
		}
	default:
		// Transport failures and other 4xx break a success run but are not throttling.
		d.successRun = 0
		if d.level == LevelRecovery {
			d.level = LevelDegradedMajor
		}
	}

	if d.level == from {
		return
	}
	d.levelChanges++
	d.metrics.setDegradationLevel(d.level)
	kvs := []interface{}{
		"from", from.String(),
		"to", d.level.String(),
		"rate_limit_run", d.rateLimitRun,
		"success_run", d.successRun,
	}
	if d.level == LevelHealthy || d.level == LevelRecovery {
		d.log.Recovery("Degradation level lowered", kvs...)
	} else {
		d.log.Degradation("Degradation level raised", kvs...)
	}
}

// Level returns the current level.
func (d *DegradationController) Level() Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// Reset returns to LevelHealthy.
func (d *DegradationController) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.level = LevelHealthy
	d.rateLimitRun = 0
	d.successRun = 0
	d.metrics.setDegradationLevel(LevelHealthy)
	d.log.Recovery("Degradation controller reset")
}

// DegradationStats is a point-in-time view of the controller.
type DegradationStats struct {
	Level        string `json:"level"`
	RateLimitRun int    `json:"rate_limit_run"`
	SuccessRun   int    `json:"success_run"`
	Skipped      int64  `json:"skipped"`
	LevelChanges int64  `json:"level_changes"`
}

// Stats returns current controller statistics.
func (d *DegradationController) Stats() DegradationStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DegradationStats{
		Level:        d.level.String(),
		RateLimitRun: d.rateLimitRun,
		SuccessRun:   d.successRun,
		Skipped:      d.skipped,
		LevelChanges: d.levelChanges,
	}
}
