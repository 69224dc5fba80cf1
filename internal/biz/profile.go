package biz

import (
	"fmt"
	"math/rand"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// IdentityProfile is one coherent browser persona: headers and the TLS
// fingerprint preset the transport should present alongside them.
type IdentityProfile struct {
	ID             string            `yaml:"id" json:"id"`
	Browser        string            `yaml:"browser" json:"browser"`
	Platform       string            `yaml:"platform" json:"platform"`
	TLSFingerprint string            `yaml:"tls_fingerprint" json:"tls_fingerprint"`
	Weight         int               `yaml:"weight" json:"weight"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
}

// ProfileTable draws profiles by weight using a cumulative table.
type ProfileTable struct {
	profiles   []IdentityProfile
	cumulative []int
	total      int
	index      map[string]int
}

// NewProfileTable validates and indexes profiles. Order is preserved.
func NewProfileTable(profiles []IdentityProfile) (*ProfileTable, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("profile table is empty")
	}
	t := &ProfileTable{
		profiles:   make([]IdentityProfile, len(profiles)),
		cumulative: make([]int, len(profiles)),
		index:      make(map[string]int, len(profiles)),
	}
	for i, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("profile %d has no id", i)
		}
		if p.Weight <= 0 {
			return nil, fmt.Errorf("profile %s: weight must be > 0", p.ID)
		}
		if _, dup := t.index[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile id %s", p.ID)
		}
		t.total += p.Weight
		t.cumulative[i] = t.total
		t.profiles[i] = p
		t.index[p.ID] = i
	}
	return t, nil
}

// Select draws one profile. rng is not safe for concurrent use; callers serialize.
func (t *ProfileTable) Select(rng *rand.Rand) IdentityProfile {
	n := rng.Intn(t.total)
	i := sort.SearchInts(t.cumulative, n+1)
	return t.profiles[i]
}

// SelectExcluding draws among profiles for which skip returns false. If every
// profile is skipped it falls back to the full table.
func (t *ProfileTable) SelectExcluding(rng *rand.Rand, skip func(id string) bool) IdentityProfile {
	if skip == nil {
		return t.Select(rng)
	}
	cum := make([]int, 0, len(t.profiles))
	idx := make([]int, 0, len(t.profiles))
	total := 0
	for i, p := range t.profiles {
		if skip(p.ID) {
			continue
		}
		total += p.Weight
		cum = append(cum, total)
		idx = append(idx, i)
	}
	if total == 0 {
		return t.Select(rng)
	}
	n := rng.Intn(total)
	return t.profiles[idx[sort.SearchInts(cum, n+1)]]
}

// Get looks a profile up by id.
func (t *ProfileTable) Get(id string) (IdentityProfile, bool) {
	i, ok := t.index[id]
	if !ok {
		return IdentityProfile{}, false
	}
	return t.profiles[i], true
}

// Profiles returns the table in configured order.
func (t *ProfileTable) Profiles() []IdentityProfile {
	return append([]IdentityProfile(nil), t.profiles...)
}

// Share returns the configured selection probability of id.
func (t *ProfileTable) Share(id string) float64 {
	i, ok := t.index[id]
	if !ok {
		return 0
	}
	return float64(t.profiles[i].Weight) / float64(t.total)
}

type profileFile struct {
	Profiles []IdentityProfile `yaml:"profiles"`
}

// LoadProfileTable reads a YAML profile table, or returns the built-in table
// when path is empty.
func LoadProfileTable(path string) (*ProfileTable, error) {
	if path == "" {
		return NewProfileTable(DefaultProfiles())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	var pf profileFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse profiles file %s: %w", path, err)
	}
	return NewProfileTable(pf.Profiles)
}

func chromiumHints(brand, userAgent, platform, platformVersion, arch string) map[string]string {
	return map[string]string{
		"Sec-CH-UA":                  brand,
		"Sec-CH-UA-Platform":         `"` + platform + `"`,
		"Sec-CH-UA-Platform-Version": `"` + platformVersion + `"`,
		"Sec-CH-UA-Arch":             `"` + arch + `"`,
		"Sec-CH-UA-Mobile":           "?0",
		"Sec-CH-UA-Bitness":          `"64"`,
		"Sec-CH-UA-Model":            `""`,
		"User-Agent":                 userAgent,
	}
}

// DefaultProfiles is the built-in persona table. Chrome dominates to match
// real-world browser share.
func DefaultProfiles() []IdentityProfile {
	const (
		chrome131 = `"Chromium";v="131", "Not_A Brand";v="24", "Google Chrome";v="131"`
		chrome130 = `"Chromium";v="130", "Not_A Brand";v="24", "Google Chrome";v="130"`
		edge131   = `"Microsoft Edge";v="131", "Chromium";v="131", "Not_A Brand";v="24"`
	)
	return []IdentityProfile{
		{
			ID: "chrome131_macos", Browser: "chrome", Platform: "macos", TLSFingerprint: "chrome-131", Weight: 25,
			Headers: chromiumHints(chrome131,
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2_0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
				"macOS", "14.2.0", "arm64"),
		},
		{
			ID: "chrome131_windows", Browser: "chrome", Platform: "windows", TLSFingerprint: "chrome-131", Weight: 25,
			Headers: chromiumHints(chrome131,
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
				"Windows", "15.0.0", "x86"),
		},
		{
			ID: "chrome130_macos", Browser: "chrome", Platform: "macos", TLSFingerprint: "chrome-130", Weight: 15,
			Headers: chromiumHints(chrome130,
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1_0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
				"macOS", "14.1.0", "arm64"),
		},
		{
			ID: "chrome130_windows", Browser: "chrome", Platform: "windows", TLSFingerprint: "chrome-130", Weight: 15,
			Headers: chromiumHints(chrome130,
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
				"Windows", "15.0.0", "x86"),
		},
		// Firefox and Safari do not send client hints.
		{
			ID: "firefox132_macos", Browser: "firefox", Platform: "macos", TLSFingerprint: "firefox-132", Weight: 5,
			Headers: map[string]string{
				"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:132.0) Gecko/20100101 Firefox/132.0",
			},
		},
		{
			ID: "firefox132_windows", Browser: "firefox", Platform: "windows", TLSFingerprint: "firefox-132", Weight: 5,
			Headers: map[string]string{
				"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0",
			},
		},
		{
			ID: "safari18_macos", Browser: "safari", Platform: "macos", TLSFingerprint: "safari-18", Weight: 5,
			Headers: map[string]string{
				"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15",
			},
		},
		{
			ID: "edge131_windows", Browser: "edge", Platform: "windows", TLSFingerprint: "chrome-131", Weight: 5,
			Headers: chromiumHints(edge131,
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
				"Windows", "15.0.0", "x86"),
		},
	}
}
