package api_test

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/aemet-connector/internal/api"
)

func TestIPLimiter(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		perMinute  int
		burst      int
		remoteAddr string
		requests   int

		wantLast int
	}{
		"under limit": {perMinute: 60, burst: 3, remoteAddr: net.JoinHostPort("1.2.3.4", "8080"), requests: 3, wantLast: http.StatusOK},
		"over limit":  {perMinute: 1, burst: 1, remoteAddr: net.JoinHostPort("1.2.3.4", "8080"), requests: 2, wantLast: http.StatusTooManyRequests},
		"no limit":    {perMinute: 0, burst: 1, remoteAddr: net.JoinHostPort("1.2.3.4", "8080"), requests: 20, wantLast: http.StatusOK},
		"bare ip":     {perMinute: 1, burst: 1, remoteAddr: "1.2.3.4", requests: 2, wantLast: http.StatusTooManyRequests},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			limiter := api.NewIPLimiter(tc.perMinute, tc.burst)
			handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			var last int
			for range tc.requests {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.RemoteAddr = tc.remoteAddr
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
				last = rr.Code
			}
			assert.Equal(t, tc.wantLast, last)
		})
	}
}

func TestIPLimiterEvictsIdleClients(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		perMinute int
		burst     int
		idle      time.Duration

		wantTracked int
	}{
		"recent clients are kept":           {perMinute: 60, burst: 5, idle: 9 * time.Minute, wantTracked: 21},
		"idle clients are evicted":          {perMinute: 60, burst: 5, idle: 10 * time.Minute, wantTracked: 1},
		"kept until the burst has refilled": {perMinute: 1, burst: 30, idle: 20 * time.Minute, wantTracked: 21},
		"evicted once the burst refilled":   {perMinute: 1, burst: 30, idle: 30 * time.Minute, wantTracked: 1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			limiter := api.NewIPLimiter(tc.perMinute, tc.burst)
			limiter.SetClock(func() time.Time { return now })
			handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			send := func(ip string) {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.RemoteAddr = net.JoinHostPort(ip, "8080")
				handler.ServeHTTP(httptest.NewRecorder(), req)
			}

			for i := range 20 {
				send(fmt.Sprintf("10.0.0.%d", i))
			}
			require.Equal(t, 20, limiter.Tracked(), "Setup: every client gets a limiter")

			now = now.Add(tc.idle)
			send("192.0.2.1")
			assert.Equal(t, tc.wantTracked, limiter.Tracked())
		})
	}
}
