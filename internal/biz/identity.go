package biz

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"TrendGate/internal/conf"
	"TrendGate/internal/model"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// SessionRepo persists the single session record.
type SessionRepo interface {
	// Load returns model.ErrSessionNotFound when nothing was saved yet.
	Load(ctx context.Context) (*model.SessionRecord, error)
	Save(ctx context.Context, rec *model.SessionRecord) error
	Delete(ctx context.Context) error
}

const (
	defaultBlockTTL = 30 * time.Minute
	acceptLanguage  = "en-US,en;q=0.9"
)

var apiHeaders = map[string]string{
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": acceptLanguage,
	"DNT":             "1",
	"Sec-Fetch-Dest":  "empty",
	"Sec-Fetch-Mode":  "cors",
	"Sec-Fetch-Site":  "same-origin",
}

var navigationHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           acceptLanguage,
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
}

// IdentityManager owns the session record, the cookie jar and the active
// browser profile. All jar mutation happens under mu.
type IdentityManager struct {
	mu sync.Mutex

	repo      SessionRepo
	table     *ProfileTable
	transport Transport
	rng       *rand.Rand
	blocked   *expirable.LRU[string, string]
	warmups   singleflight.Group
	metrics   *Metrics
	log       *pkglog.LogHelper

	warmupEnabled bool
	warmupURLs    []string
	minDelay      time.Duration
	maxDelay      time.Duration
	persistEvery  bool
	timeout       time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	session    *model.SessionRecord
	profile    IdentityProfile
	generation uint64
	dirty      bool
	rotations  int64
	completed  int64
}

// NewIdentityManager creates a manager. The session is loaded lazily on first use.
func NewIdentityManager(c *conf.Identity, tc *conf.Transport, table *ProfileTable, repo SessionRepo, transport Transport, metrics *Metrics, logger log.Logger) *IdentityManager {
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ttl := c.BlockTTL
	if ttl <= 0 {
		ttl = defaultBlockTTL
	}
	m := &IdentityManager{
		repo:          repo,
		table:         table,
		transport:     transport,
		rng:           rand.New(rand.NewSource(seed)),
		blocked:       expirable.NewLRU[string, string](len(table.profiles), nil, ttl),
		metrics:       metrics,
		log:           pkglog.NewLogHelper(logger),
		warmupEnabled: c.WarmupEnabled,
		warmupURLs:    append([]string(nil), c.WarmupURLs...),
		minDelay:      c.WarmupMinDelay,
		maxDelay:      c.WarmupMaxDelay,
		persistEvery:  c.PersistEveryExchange,
		now:           time.Now,
		sleep:         sleepContext,
	}
	if tc != nil {
		m.timeout = tc.Timeout
	}
	if m.maxDelay < m.minDelay {
		m.maxDelay = m.minDelay
	}
	return m
}

// GetSession returns a copy of the active session, loading or creating it.
func (m *IdentityManager) GetSession(ctx context.Context) *model.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSessionLocked(ctx)
	return m.session.Clone()
}

// SelectProfile draws a profile by weight, skipping recently blocked ones.
// It does not change the active profile.
func (m *IdentityManager) SelectProfile() IdentityProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked()
}

// Profile returns the active profile.
func (m *IdentityManager) Profile(ctx context.Context) IdentityProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSessionLocked(ctx)
	return m.profile
}

// Headers builds the request headers an XHR from profile p to target would carry.
func (m *IdentityManager) Headers(p IdentityProfile, target *url.URL) http.Header {
	return buildHeaders(p, target, false)
}

// Cookies returns the jar entries that apply to target.
func (m *IdentityManager) Cookies(target *url.URL) []*http.Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return cookiesFor(m.session.Cookies, target, m.now())
}

// Prepare warms the session up if needed and returns a ready exchange for
// target together with the identity generation it was built from.
func (m *IdentityManager) Prepare(ctx context.Context, target string) (*model.Exchange, uint64, error) {
	if err := m.Warmup(ctx); err != nil {
		return nil, 0, err
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSessionLocked(ctx)
	return m.exchangeLocked(u, false), m.generation, nil
}

// Warmup performs the browse sequence once per session. Concurrent callers
// share one run; a caller whose context ends stops waiting without aborting
// the run for the others.
func (m *IdentityManager) Warmup(ctx context.Context) error {
	m.mu.Lock()
	m.ensureSessionLocked(ctx)
	if !m.warmupEnabled || len(m.warmupURLs) == 0 || m.session.WarmupCompleted {
		m.mu.Unlock()
		return nil
	}
	gen := m.generation
	m.mu.Unlock()

	budget := time.Duration(len(m.warmupURLs)) * (m.maxDelay + m.exchangeTimeout())
	ch := m.warmups.DoChan("warmup-"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
		defer cancel()
		return nil, m.runWarmup(runCtx, gen)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *IdentityManager) runWarmup(ctx context.Context, gen uint64) error {
	start := m.now()
	m.log.Warmup("Starting session warmup", "generation", gen, "steps", len(m.warmupURLs))

	for i, raw := range m.warmupURLs {
		if err := m.sleep(ctx, m.randomDelay()); err != nil {
			m.metrics.recordWarmup("aborted")
			return err
		}
		u, err := url.Parse(raw)
		if err != nil {
			m.log.IdentityWarn("Skipping malformed warmup url", "step", i+1, "error", err)
			continue
		}

		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			m.log.Warmup("Identity rotated during warmup, abandoning run", "generation", gen)
			m.metrics.recordWarmup("abandoned")
			return nil
		}
		ex := m.exchangeLocked(u, true)
		m.mu.Unlock()

		res := m.transport.Perform(ctx, ex)
		if res.Err != nil {
			if ctx.Err() != nil {
				m.metrics.recordWarmup("aborted")
				return ctx.Err()
			}
			m.log.IdentityWarn("Warmup step failed", "step", i+1, "url", raw, "error", res.Err)
			continue
		}
		m.Observe(ctx, gen, u, res.SetCookies)
		m.log.Warmup("Warmup step done", "step", i+1, "url", raw, "status", res.StatusCode, "cookies", len(res.SetCookies))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		m.metrics.recordWarmup("abandoned")
		return nil
	}
	m.session.WarmupCompleted = true
	m.dirty = true
	m.completed++
	_ = m.saveLocked(ctx)
	m.metrics.recordWarmup("completed")
	m.log.Identity("Session warmup completed",
		"profile", m.profile.ID,
		"cookies", len(m.session.Cookies),
		"duration", m.now().Sub(start),
	)
	return nil
}

// Observe merges Set-Cookie values from a response. Cookies from an identity
// generation that has since been rotated away are discarded.
func (m *IdentityManager) Observe(ctx context.Context, gen uint64, target *url.URL, setCookies []*http.Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || gen != m.generation {
		return
	}
	now := m.now()
	m.session.Cookies = mergeCookies(m.session.Cookies, target, setCookies, now)
	m.session.LastUsed = now
	m.dirty = true
	if m.persistEvery {
		_ = m.saveLocked(ctx)
	}
}

// Checkpoint persists the session if it changed since the last save.
func (m *IdentityManager) Checkpoint(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || !m.dirty {
		return nil
	}
	return m.saveLocked(ctx)
}

// Rotate replaces the profile and session after an identity-level block. A
// rotation requested for an already superseded generation is a no-op.
func (m *IdentityManager) Rotate(ctx context.Context, gen uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || gen != m.generation {
		return
	}
	old := m.profile.ID
	dropped := len(m.session.Cookies)
	m.blocked.Add(old, reason)
	m.rotations++
	m.freshLocked()
	m.metrics.recordRotation(reason)
	m.log.IdentityWarn("Identity blocked, rotated profile and session",
		"reason", reason,
		"from_profile", old,
		"to_profile", m.profile.ID,
		"cookies_dropped", dropped,
	)
	_ = m.saveLocked(ctx)
}

// Forget deletes the persisted session. The next request starts fresh.
func (m *IdentityManager) Forget(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.repo.Delete(ctx); err != nil {
		return err
	}
	m.session = nil
	m.generation++
	m.dirty = false
	m.log.Identity("Session forgotten")
	return nil
}

// Close writes the final checkpoint.
func (m *IdentityManager) Close(ctx context.Context) error {
	return m.Checkpoint(ctx)
}

// IdentityStats is a point-in-time view of the identity state.
type IdentityStats struct {
	ProfileID       string        `json:"profile_id"`
	Browser         string        `json:"browser"`
	TLSFingerprint  string        `json:"tls_fingerprint"`
	Cookies         int           `json:"cookies"`
	WarmupCompleted bool          `json:"warmup_completed"`
	SessionAge      time.Duration `json:"session_age"`
	LastUsed        time.Time     `json:"last_used"`
	Dirty           bool          `json:"dirty"`
	Rotations       int64         `json:"rotations"`
	Warmups         int64         `json:"warmups"`
	BlockedProfiles []string      `json:"blocked_profiles"`
}

// Stats returns current identity statistics without loading a session.
func (m *IdentityManager) Stats() IdentityStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := IdentityStats{
		Dirty:           m.dirty,
		Rotations:       m.rotations,
		Warmups:         m.completed,
		BlockedProfiles: m.blocked.Keys(),
	}
	sort.Strings(s.BlockedProfiles)
	if m.session != nil {
		s.ProfileID = m.profile.ID
		s.Browser = m.profile.Browser
		s.TLSFingerprint = m.profile.TLSFingerprint
		s.Cookies = len(m.session.Cookies)
		s.WarmupCompleted = m.session.WarmupCompleted
		s.SessionAge = m.now().Sub(m.session.CreatedAt)
		s.LastUsed = m.session.LastUsed
	}
	return s
}

func (m *IdentityManager) ensureSessionLocked(ctx context.Context) {
	if m.session != nil {
		return
	}
	rec, err := m.repo.Load(ctx)
	switch {
	case err == nil && rec != nil:
		p, ok := m.table.Get(rec.ProfileID)
		if !ok {
			m.log.IdentityWarn("Saved session uses an unknown profile, reassigning", "profile", rec.ProfileID)
			p = m.selectLocked()
			rec.ProfileID = p.ID
			rec.WarmupCompleted = false
			m.dirty = true
		}
		rec.Cookies = pruneExpired(rec.Cookies, m.now())
		m.session = rec
		m.profile = p
		m.generation++
		m.log.Identity("Session restored",
			"profile", p.ID,
			"cookies", len(rec.Cookies),
			"warmup_completed", rec.WarmupCompleted,
		)
	case err == nil || errors.Is(err, model.ErrSessionNotFound):
		m.freshLocked()
		m.log.Identity("Created new session", "profile", m.profile.ID)
	default:
		m.freshLocked()
		m.log.IdentityWarn("Saved session unavailable, starting fresh", "profile", m.profile.ID, "error", err)
	}
}

func (m *IdentityManager) freshLocked() {
	now := m.now()
	m.profile = m.selectLocked()
	m.session = &model.SessionRecord{
		ProfileID: m.profile.ID,
		CreatedAt: now,
		LastUsed:  now,
	}
	m.generation++
	m.dirty = true
}

func (m *IdentityManager) selectLocked() IdentityProfile {
	return m.table.SelectExcluding(m.rng, func(id string) bool {
		return m.blocked.Contains(id)
	})
}

func (m *IdentityManager) saveLocked(ctx context.Context) error {
	if err := m.repo.Save(ctx, m.session.Clone()); err != nil {
		m.log.IdentityWarn("Failed to persist session", "error", err)
		return err
	}
	m.dirty = false
	m.log.Storage("Session persisted", "profile", m.session.ProfileID, "cookies", len(m.session.Cookies))
	return nil
}

func (m *IdentityManager) exchangeLocked(u *url.URL, navigate bool) *model.Exchange {
	return &model.Exchange{
		Method:      http.MethodGet,
		URL:         u.String(),
		Header:      buildHeaders(m.profile, u, navigate),
		Cookies:     cookiesFor(m.session.Cookies, u, m.now()),
		Fingerprint: m.profile.TLSFingerprint,
		ProfileID:   m.profile.ID,
		Timeout:     m.timeout,
	}
}

func (m *IdentityManager) randomDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	span := int64(m.maxDelay - m.minDelay)
	if span <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(span+1))
}

func (m *IdentityManager) exchangeTimeout() time.Duration {
	if m.timeout > 0 {
		return m.timeout
	}
	return 30 * time.Second
}

func buildHeaders(p IdentityProfile, target *url.URL, navigate bool) http.Header {
	base := apiHeaders
	if navigate {
		base = navigationHeaders
	}
	h := make(http.Header, len(base)+len(p.Headers)+2)
	for k, v := range base {
		h.Set(k, v)
	}
	for k, v := range p.Headers {
		h.Set(k, v)
	}
	if !navigate && target != nil && target.Host != "" {
		origin := target.Scheme + "://" + target.Host
		h.Set("Origin", origin)
		h.Set("Referer", origin+"/")
	}
	return h
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
