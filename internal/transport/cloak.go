package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"TrendGate/internal/model"

	"github.com/sardanioss/httpcloak/client"
)

const defaultPreset = "chrome-131"

// CloakEngine performs exchanges through httpcloak, which reproduces a
// browser's TLS and HTTP/2 fingerprint. One client is kept per preset.
type CloakEngine struct {
	mu       sync.Mutex
	clients  map[string]*client.Client
	proxyURL string
	timeout  time.Duration
}

// NewCloakEngine creates an engine routed through proxyURL (empty for direct).
func NewCloakEngine(proxyURL string, timeout time.Duration) *CloakEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CloakEngine{
		clients:  make(map[string]*client.Client),
		proxyURL: proxyURL,
		timeout:  timeout,
	}
}

func (e *CloakEngine) clientFor(preset string) *client.Client {
	if preset == "" {
		preset = defaultPreset
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[preset]; ok {
		return c
	}
	c := client.NewClient(preset)
	c.SetTimeout(e.timeout)
	if e.proxyURL != "" {
		c.SetProxy(e.proxyURL)
	}
	e.clients[preset] = c
	return c
}

// Perform executes one exchange with the exchange's fingerprint preset.
func (e *CloakEngine) Perform(ctx context.Context, ex *model.Exchange) *model.RawResult {
	start := time.Now()
	res := &model.RawResult{}
	defer func() { res.Duration = time.Since(start) }()

	target, err := url.Parse(ex.URL)
	if err != nil {
		res.Err = err
		return res
	}

	method := ex.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := ex.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	follow := true
	req := &client.Request{
		Method:          method,
		URL:             ex.URL,
		Headers:         map[string][]string(ex.Header.Clone()),
		Timeout:         timeout,
		Referer:         ex.Header.Get("Referer"),
		FollowRedirects: &follow,
		MaxRedirects:    maxRedirects,
		DisableRetry:    true,
	}
	if req.Headers == nil {
		req.Headers = make(map[string][]string)
	}
	if strings.EqualFold(ex.Header.Get("Sec-Fetch-Mode"), "cors") {
		req.FetchMode = client.FetchModeCORS
	}
	if cookie := cookieHeader(ex.Cookies); cookie != "" {
		req.SetHeader("Cookie", cookie)
	}

	resp, err := e.clientFor(ex.Fingerprint).Do(ctx, req)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Close()

	body, err := resp.Bytes()
	if err != nil {
		res.Err = err
		return res
	}

	header := toHeader(resp.Headers)
	res.StatusCode = resp.StatusCode
	res.Header = header
	res.Body = body
	res.FinalURL = resp.FinalURL
	if res.FinalURL == "" {
		res.FinalURL = ex.URL
	}
	res.Protocol = resp.Protocol

	for _, hop := range resp.RedirectHistory {
		if hop == nil {
			continue
		}
		hopURL, err := url.Parse(hop.URL)
		if err != nil {
			continue
		}
		res.SetCookies = append(res.SetCookies, scopedCookies(hopURL, target, parseSetCookies(toHeader(hop.Headers)))...)
	}
	finalURL, err := url.Parse(res.FinalURL)
	if err == nil {
		res.SetCookies = append(res.SetCookies, scopedCookies(finalURL, target, parseSetCookies(header))...)
	}
	return res
}

// Close releases every cached client.
func (e *CloakEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for preset, c := range e.clients {
		c.Close()
		delete(e.clients, preset)
	}
}

// toHeader canonicalizes keys; HTTP/2 and HTTP/3 responses arrive lower-cased.
func toHeader(m map[string][]string) http.Header {
	h := make(http.Header, len(m))
	for k, vs := range m {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

func parseSetCookies(h http.Header) []*http.Cookie {
	if len(h.Values("Set-Cookie")) == 0 {
		return nil
	}
	return (&http.Response{Header: h}).Cookies()
}

func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
