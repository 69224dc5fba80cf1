package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"TrendGate/internal/model"
	"TrendGate/pkg/proxy"
)

const (
	maxBodyBytes = 16 << 20
	maxRedirects = 10
)

// HTTPEngine performs exchanges with net/http. It has Go's own TLS
// fingerprint and is used when no impersonating engine is wanted.
type HTTPEngine struct {
	transport *http.Transport
	timeout   time.Duration
}

// NewHTTPEngine creates an engine routed through proxyURL (empty for direct).
func NewHTTPEngine(proxyURL string, timeout time.Duration) (*HTTPEngine, error) {
	t, err := proxy.NewTransport(proxyURL, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEngine{transport: t, timeout: timeout}, nil
}

// Perform executes one exchange, following redirects. Set-Cookie headers
// from every hop are reported along with the final response's.
func (e *HTTPEngine) Perform(ctx context.Context, ex *model.Exchange) *model.RawResult {
	start := time.Now()
	res := &model.RawResult{}
	defer func() { res.Duration = time.Since(start) }()

	target, err := url.Parse(ex.URL)
	if err != nil {
		res.Err = fmt.Errorf("parse url: %w", err)
		return res
	}

	timeout := ex.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A per-exchange jar carries cookies set mid-redirect to the next hop.
	jar, _ := cookiejar.New(nil)
	jar.SetCookies(target, ex.Cookies)

	var hopCookies []*http.Cookie
	client := &http.Client{
		Transport: e.transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.Response != nil {
				hopCookies = append(hopCookies, scopedCookies(req.Response.Request.URL, target, req.Response.Cookies())...)
			}
			return nil
		},
	}

	method := ex.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, ex.URL, nil)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}
	for k, vs := range ex.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		res.Err = fmt.Errorf("read body: %w", err)
		return res
	}

	res.StatusCode = resp.StatusCode
	res.Header = resp.Header
	res.Body = body
	res.FinalURL = resp.Request.URL.String()
	res.Protocol = resp.Proto
	res.SetCookies = append(hopCookies, scopedCookies(resp.Request.URL, target, resp.Cookies())...)
	return res
}

// Close drops idle connections.
func (e *HTTPEngine) Close() {
	e.transport.CloseIdleConnections()
}

// scopedCookies keeps cookies the session can attribute to target: those
// with an explicit Domain, and host-only cookies set by target's own host.
func scopedCookies(from, target *url.URL, cookies []*http.Cookie) []*http.Cookie {
	if from == nil {
		return nil
	}
	out := cookies[:0:0]
	for _, c := range cookies {
		if c.Domain != "" || from.Hostname() == target.Hostname() {
			out = append(out, c)
		}
	}
	return out
}
