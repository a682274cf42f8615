package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wave-shield/internal/metrics"
	"github.com/bnema/wave-shield/internal/shield"
	"github.com/bnema/wave-shield/internal/store"
)

func newTestServer(t *testing.T, reload ReloadFunc) (*httptest.Server, *shield.Shield) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := shield.New(shield.WithMetrics(metrics.NewCollector(reg)))
	_, err := s.LoadFilters([]string{
		"||ads.badsite.com^",
		"@@||ads.badsite.com/allowed.js^",
		"?utm_source=",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(New(s, reload, reg, zerolog.Nop()))
	t.Cleanup(ts.Close)
	return ts, s
}

func getJSON(t *testing.T, rawURL string, v any) int {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestCheck(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name     string
		target   string
		source   string
		rtype    string
		decision string
		rule     string
		url      string
	}{
		{
			name:     "blocked",
			target:   "https://ads.badsite.com/banner.js",
			source:   "https://mysite.com",
			rtype:    "script",
			decision: "block",
			rule:     "||ads.badsite.com^",
			url:      "https://ads.badsite.com/banner.js",
		},
		{
			name:     "exception",
			target:   "https://ads.badsite.com/allowed.js",
			source:   "https://mysite.com",
			rtype:    "script",
			decision: "allow",
			rule:     "@@||ads.badsite.com/allowed.js^",
			url:      "https://ads.badsite.com/allowed.js",
		},
		{
			name:     "sanitized",
			target:   "https://news.org/a?utm_source=x&id=1",
			decision: "sanitize",
			rule:     "?utm_source=",
			url:      "https://news.org/a?id=1",
		},
		{
			name:     "no match with default type",
			target:   "https://mysite.com/style.css",
			source:   "https://mysite.com",
			decision: "allow",
			url:      "https://mysite.com/style.css",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{"url": {tt.target}}
			if tt.source != "" {
				q.Set("source", tt.source)
			}
			if tt.rtype != "" {
				q.Set("type", tt.rtype)
			}

			var body map[string]string
			status := getJSON(t, ts.URL+"/check?"+q.Encode(), &body)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.decision, body["decision"])
			assert.Equal(t, tt.rule, body["rule"])
			assert.Equal(t, tt.url, body["url"])
			assert.Empty(t, body["error"])
		})
	}
}

func TestCheckFault(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var body map[string]string
	status := getJSON(t, ts.URL+"/check?url=not-a-url", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "allow", body["decision"])
	assert.Contains(t, body["error"], `normalize url "not-a-url"`)
}

func TestCheckBadRequests(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name  string
		query string
		msg   string
	}{
		{"missing url", "", "missing url parameter"},
		{"unknown type", "url=https%3A%2F%2Fa.com%2F&type=websocket", "unknown resource type: websocket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			status := getJSON(t, ts.URL+"/check?"+tt.query, &body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.msg, body["error"])
		})
	}
}

func TestSanitizeEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var body map[string]string
	q := url.Values{"url": {"https://a.com/?fbclid=1&k=v"}}
	status := getJSON(t, ts.URL+"/sanitize?"+q.Encode(), &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://a.com/?k=v", body["url"])
}

func TestReloadFromBody(t *testing.T) {
	ts, s := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/reload", "text/plain", strings.NewReader("! new list\n||tracker.net^\n\nfoo##bar\n"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res store.LoadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, uint64(2), res.Generation)

	assert.Equal(t, "block", s.ShouldAllowRequest("https://tracker.net/t", "", 0).String())
	assert.Equal(t, "allow", s.ShouldAllowRequest("https://ads.badsite.com/x", "", 0).String())
}

func TestReloadFromConfiguredLists(t *testing.T) {
	var (
		called atomic.Bool
		target atomic.Pointer[shield.Shield]
	)
	reload := func(ctx context.Context) (store.LoadResult, error) {
		called.Store(true)
		return target.Load().LoadFilters([]string{"||configured.org^"})
	}
	ts, s := newTestServer(t, reload)
	target.Store(s)

	resp, err := http.Post(ts.URL+"/reload", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, called.Load())
	assert.Equal(t, "block", s.ShouldAllowRequest("https://configured.org/", "", 0).String())
}

func TestReloadErrors(t *testing.T) {
	t.Run("no body and no lists", func(t *testing.T) {
		ts, _ := newTestServer(t, nil)
		resp, err := http.Post(ts.URL+"/reload", "text/plain", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("reload failure", func(t *testing.T) {
		ts, s := newTestServer(t, func(context.Context) (store.LoadResult, error) {
			return store.LoadResult{}, errors.New("list unreadable")
		})
		resp, err := http.Post(ts.URL+"/reload", "text/plain", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "list unreadable", body["error"])
		assert.Equal(t, uint64(1), s.Stats().Generation)
	})

	t.Run("wrong method", func(t *testing.T) {
		ts, _ := newTestServer(t, nil)
		resp, err := http.Get(ts.URL + "/reload")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestStats(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var stats shield.Stats
	status := getJSON(t, ts.URL+"/stats", &stats)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, stats.Enabled)
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, 3, stats.Index.Rules)
	assert.Equal(t, 1, stats.Index.Exceptions)
	assert.Equal(t, 1, stats.Index.Sanitizing)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, s := newTestServer(t, nil)
	s.ShouldAllowRequest("https://ads.badsite.com/x.js", "", 0)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `wave_shield_decisions_total{decision="block"} 1`)
	assert.Contains(t, string(data), "wave_shield_active_rules 3")
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	srv := New(shield.New(), nil, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
