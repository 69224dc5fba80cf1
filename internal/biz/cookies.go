package biz

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"TrendGate/internal/model"
)

// The session jar is a plain slice so it can be persisted as is;
// net/http/cookiejar offers no way to enumerate its entries.

// mergeCookies applies Set-Cookie values received from u to jar. Cookies for
// a foreign domain are dropped; Max-Age<=0 or a past Expires deletes the entry.
func mergeCookies(jar []model.Cookie, u *url.URL, set []*http.Cookie, now time.Time) []model.Cookie {
	host := strings.ToLower(u.Hostname())
	for _, sc := range set {
		if sc == nil || sc.Name == "" {
			continue
		}
		c := model.Cookie{
			Name:     sc.Name,
			Value:    sc.Value,
			Domain:   strings.TrimPrefix(strings.ToLower(sc.Domain), "."),
			Path:     sc.Path,
			Secure:   sc.Secure,
			HttpOnly: sc.HttpOnly,
		}
		if c.Domain == "" {
			c.Domain = host
			c.HostOnly = true
		} else if !domainMatch(host, c.Domain) {
			continue
		}
		if c.Path == "" || c.Path[0] != '/' {
			c.Path = defaultCookiePath(u.Path)
		}

		remove := false
		switch {
		case sc.MaxAge < 0:
			remove = true
		case sc.MaxAge > 0:
			c.Expires = now.Add(time.Duration(sc.MaxAge) * time.Second)
		case !sc.Expires.IsZero():
			c.Expires = sc.Expires
			remove = !sc.Expires.After(now)
		}

		replaced := false
		for i := range jar {
			if jar[i].Name == c.Name && jar[i].Domain == c.Domain && jar[i].Path == c.Path {
				if remove {
					jar = append(jar[:i], jar[i+1:]...)
				} else {
					jar[i] = c
				}
				replaced = true
				break
			}
		}
		if !replaced && !remove {
			jar = append(jar, c)
		}
	}
	return jar
}

// cookiesFor selects the jar entries to send to u, longest path first.
func cookiesFor(jar []model.Cookie, u *url.URL, now time.Time) []*http.Cookie {
	host := strings.ToLower(u.Hostname())
	reqPath := u.Path
	if reqPath == "" {
		reqPath = "/"
	}

	matched := make([]model.Cookie, 0, len(jar))
	for _, c := range jar {
		if c.Expired(now) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		if c.HostOnly {
			if host != c.Domain {
				continue
			}
		} else if !domainMatch(host, c.Domain) {
			continue
		}
		if !pathMatch(reqPath, c.Path) {
			continue
		}
		matched = append(matched, c)
	}
	sort.SliceStable(matched, func(i, j int) bool { return len(matched[i].Path) > len(matched[j].Path) })

	out := make([]*http.Cookie, len(matched))
	for i, c := range matched {
		out[i] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return out
}

// pruneExpired drops entries that expired while the record was on disk.
func pruneExpired(jar []model.Cookie, now time.Time) []model.Cookie {
	kept := jar[:0]
	for _, c := range jar {
		if !c.Expired(now) {
			kept = append(kept, c)
		}
	}
	return kept
}

func domainMatch(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

func defaultCookiePath(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}
