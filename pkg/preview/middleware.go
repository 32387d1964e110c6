package preview

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	clientSweepInterval = time.Minute
	clientIdleTTL       = 10 * time.Minute
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireBasicAuth checks HTTP basic credentials against the configured
// bcrypt password hashes.
func (s *server) requireBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !s.checkPassword(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="uploadoor", charset="UTF-8"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{"authentication required"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *server) checkPassword(username, password string) bool {
	hash, ok := s.users[username]
	if !ok {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// limitClients rejects clients that exceed requestsPerMinute with 429 and a
// Retry-After header.
func (s *server) limitClients(requestsPerMinute int) func(http.Handler) http.Handler {
	limits := newClientLimits(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)

			ok, wait := limits.allow(client, time.Now())
			if !ok {
				s.log.WithField("client", client).WithField("path", r.URL.Path).Debug("Request rate limited")

				w.Header().Set("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientLimits keeps one token bucket per client. A bucket holds a full
// minute of requests. Buckets idle for clientIdleTTL are dropped by the
// next sweep, which runs at most once per clientSweepInterval.
type clientLimits struct {
	mu        sync.Mutex
	every     time.Duration
	burst     int
	buckets   map[string]*clientBucket
	lastSweep time.Time
}

type clientBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newClientLimits(requestsPerMinute int) *clientLimits {
	return &clientLimits{
		every:   time.Minute / time.Duration(requestsPerMinute),
		burst:   requestsPerMinute,
		buckets: make(map[string]*clientBucket),
	}
}

// allow takes one token from client's bucket at now. When the bucket is
// empty it returns false and the time until the next token.
func (c *clientLimits) allow(client string, now time.Time) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) >= clientSweepInterval {
		for name, b := range c.buckets {
			if now.Sub(b.seen) > clientIdleTTL {
				delete(c.buckets, name)
			}
		}

		c.lastSweep = now
	}

	b, ok := c.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Every(c.every), c.burst)}
		c.buckets[client] = b
	}

	b.seen = now

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)

		return false, delay
	}

	return true, 0
}

// clientIP returns the first X-Forwarded-For address, or the remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
