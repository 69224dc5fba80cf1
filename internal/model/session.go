package model

import (
	"errors"
	"time"
)

// Cookie is the persisted form of one jar entry.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	HostOnly bool      `json:"host_only,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// Expired reports whether the cookie has a past expiry.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// SessionRecord is the durable identity state: one cookie jar bound to one profile.
type SessionRecord struct {
	ProfileID       string    `json:"profile_id"`
	Cookies         []Cookie  `json:"cookies"`
	WarmupCompleted bool      `json:"warmup_completed"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsed        time.Time `json:"last_used"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *SessionRecord) Clone() *SessionRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.Cookies = append([]Cookie(nil), s.Cookies...)
	return &c
}

// ErrSessionNotFound is returned by session stores when no record exists yet.
var ErrSessionNotFound = errors.New("session record not found")
