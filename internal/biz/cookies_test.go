package biz

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"TrendGate/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestMergeCookies(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u := mustURL(t, "https://trends.google.com/trends/explore")

	jar := mergeCookies(nil, u, []*http.Cookie{
		{Name: "NID", Value: "one", Domain: ".google.com", Path: "/"},
		{Name: "local", Value: "x"},
		{Name: "foreign", Value: "y", Domain: "example.com"},
		{Name: "ttl", Value: "z", MaxAge: 60},
	}, now)
	require.Len(t, jar, 3)

	assert.Equal(t, "google.com", jar[0].Domain)
	assert.False(t, jar[0].HostOnly)
	assert.Equal(t, "trends.google.com", jar[1].Domain)
	assert.True(t, jar[1].HostOnly)
	assert.Equal(t, "/trends", jar[1].Path)
	assert.Equal(t, now.Add(time.Minute), jar[2].Expires)

	jar = mergeCookies(jar, u, []*http.Cookie{
		{Name: "NID", Value: "two", Domain: ".google.com", Path: "/"},
		{Name: "local", Value: "", Path: "/trends", MaxAge: -1},
	}, now)
	require.Len(t, jar, 2)
	assert.Equal(t, "two", jar[0].Value)
	assert.Equal(t, "ttl", jar[1].Name)
}

func TestCookiesFor(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jar := []model.Cookie{
		{Name: "root", Value: "1", Domain: "google.com", Path: "/"},
		{Name: "deep", Value: "2", Domain: "google.com", Path: "/trends/api"},
		{Name: "host", Value: "3", Domain: "www.google.com", Path: "/", HostOnly: true},
		{Name: "secure", Value: "4", Domain: "google.com", Path: "/", Secure: true},
		{Name: "old", Value: "5", Domain: "google.com", Path: "/", Expires: now.Add(-time.Second)},
		{Name: "prefix", Value: "6", Domain: "google.com", Path: "/trend"},
	}

	got := cookiesFor(jar, mustURL(t, "https://trends.google.com/trends/api/explore"), now)
	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"deep", "root", "secure"}, names)

	got = cookiesFor(jar, mustURL(t, "http://www.google.com/"), now)
	names = names[:0]
	for _, c := range got {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"root", "host"}, names)
}

func TestPruneExpired(t *testing.T) {
	now := time.Now()
	jar := []model.Cookie{
		{Name: "a", Expires: now.Add(time.Hour)},
		{Name: "b", Expires: now.Add(-time.Hour)},
		{Name: "c"},
	}
	jar = pruneExpired(jar, now)
	require.Len(t, jar, 2)
	assert.Equal(t, "a", jar[0].Name)
	assert.Equal(t, "c", jar[1].Name)
}
