package limiter

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestGetLimiter_SameIPSharesInstance(t *testing.T) {
	req := require.New(t)
	l := NewIPRateLimiter(1, 1)

	first := l.GetLimiter("10.0.0.1")
	second := l.GetLimiter("10.0.0.1")
	other := l.GetLimiter("10.0.0.2")

	req.Same(first, second)
	req.NotSame(first, other)
}

func TestGetLimiter_ConcurrentFirstSight(t *testing.T) {
	req := require.New(t)
	l := NewIPRateLimiter(1, 1)

	limiters := make([]*rate.Limiter, 16)
	var wg sync.WaitGroup
	for i := range limiters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			limiters[i] = l.GetLimiter("10.0.0.1")
		}(i)
	}
	wg.Wait()

	for _, limiter := range limiters {
		req.Same(limiters[0], limiter)
	}
}

func TestMiddleware_EnforcesLimit(t *testing.T) {
	req := require.New(t)
	l := NewIPRateLimiter(0, 2)

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		statuses = append(statuses, w.Code)
	}

	req.Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"host with port", "192.168.1.10:5555", "192.168.1.10"},
		{"bare host", "192.168.1.10", "192.168.1.10"},
		{"empty", "", "unknown_ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			require.Equal(t, tt.want, ClientIP(r))
		})
	}
}
