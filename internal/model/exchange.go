package model

import (
	"net/http"
	"time"
)

// Exchange is one physical request handed to a transport engine.
type Exchange struct {
	Method      string
	URL         string
	Header      http.Header
	Cookies     []*http.Cookie
	Fingerprint string // engine preset, e.g. chrome-131
	ProfileID   string
	Timeout     time.Duration
}

// RawResult is what a transport engine observed. Err is set only for
// connection-level failures; HTTP error statuses are reported in StatusCode.
type RawResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
	SetCookies []*http.Cookie
	Protocol   string
	Duration   time.Duration
	Err        error
}
