package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/ethpandaops/uploadoor/pkg/gateway"
	"github.com/ethpandaops/uploadoor/pkg/manifest"
	"github.com/ethpandaops/uploadoor/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testContainer = "XenLogs"

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// uploadTree stores a small tree in a local backend directory and returns
// that directory.
func uploadTree(t *testing.T, rec upload.Recorder) string {
	t.Helper()

	src := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "run_tests.log"), []byte("PASS\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "messages.1.gz"), []byte{0x1f, 0x8b}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "core.dat"), []byte{0x00}, 0o644))

	dir := t.TempDir()
	gw, err := gateway.NewLocalGateway(newTestLogger(), &config.LocalStorageConfig{Dir: dir})
	require.NoError(t, err)

	opts := upload.DefaultOptions()
	opts.Recorder = rec
	opts.RunID = "run-1"

	require.NoError(t, upload.NewEngine(newTestLogger(), gw, opts).
		Upload(context.Background(), testContainer, []string{src}, "ci/42"))

	return dir
}

func newTestServer(t *testing.T, cfg *config.PreviewConfig, dir string, store manifest.Store) *server {
	t.Helper()

	s, ok := NewServer(newTestLogger(), cfg, dir, testContainer, store).(*server)
	require.True(t, ok)

	return s
}

func get(t *testing.T, h http.Handler, target string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, m := range mutate {
		m(req)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHandleObject(t *testing.T) {
	dir := uploadTree(t, nil)
	h := newTestServer(t, &config.PreviewConfig{}, dir, nil).buildRouter()

	tests := []struct {
		name            string
		target          string
		status          int
		contentType     string
		contentEncoding string
		body            string
	}{
		{
			name:        "plain text log",
			target:      "/ci/42/logs/run_tests.log",
			status:      http.StatusOK,
			contentType: "text/plain",
			body:        "PASS\n",
		},
		{
			name:            "rotated gzip log",
			target:          "/ci/42/logs/sub/messages.1.gz",
			status:          http.StatusOK,
			contentType:     "text/plain",
			contentEncoding: "gzip",
		},
		{
			name:        "unknown type",
			target:      "/ci/42/logs/core.dat",
			status:      http.StatusOK,
			contentType: defaultContentType,
		},
		{
			name:        "index page",
			target:      "/ci/42/logs/index.html",
			status:      http.StatusOK,
			contentType: "text/html",
		},
		{
			name:        "trailing slash serves index",
			target:      "/ci/42/",
			status:      http.StatusOK,
			contentType: "text/html",
		},
		{
			name:   "directory without slash",
			target: "/ci/42/logs",
			status: http.StatusNotFound,
		},
		{
			name:   "missing object",
			target: "/ci/42/nope.txt",
			status: http.StatusNotFound,
		},
		{
			name:   "path traversal",
			target: "/ci/../../etc/passwd",
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.status != http.StatusOK {
				return
			}

			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.contentEncoding, rec.Header().Get("Content-Encoding"))

			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestHandleObject_IndexLinks(t *testing.T) {
	dir := uploadTree(t, nil)
	h := newTestServer(t, &config.PreviewConfig{}, dir, nil).buildRouter()

	rec := get(t, h, "/ci/42/logs/index.html")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `<a href="/ci/42/index.html">Parent directory</a>`)
	assert.Contains(t, body, `<a href="sub/index.html">sub</a>`)
	assert.Contains(t, body, `href="run_tests.log"`)
}

func TestHandleObject_ColonNames(t *testing.T) {
	src := filepath.Join(t.TempDir(), "node:1")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "2024-01-01T10:00:00.log"), []byte("boot\n"), 0o644))

	dir := t.TempDir()
	gw, err := gateway.NewLocalGateway(newTestLogger(), &config.LocalStorageConfig{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, upload.NewEngine(newTestLogger(), gw, upload.DefaultOptions()).
		Upload(context.Background(), testContainer, []string{src}, "ci"))

	h := newTestServer(t, &config.PreviewConfig{}, dir, nil).buildRouter()

	top := get(t, h, "/ci/index.html")
	require.Equal(t, http.StatusOK, top.Code)
	assert.Contains(t, top.Body.String(), `href="node%3A1/index.html"`)

	// Follow the links as a browser would.
	page := get(t, h, "/ci/node%3A1/index.html")
	require.Equal(t, http.StatusOK, page.Code, page.Body.String())
	assert.Contains(t, page.Body.String(), `href="2024-01-01T10%3A00%3A00.log"`)

	obj := get(t, h, "/ci/node%3A1/2024-01-01T10%3A00%3A00.log")
	require.Equal(t, http.StatusOK, obj.Code, obj.Body.String())
	assert.Equal(t, "boot\n", obj.Body.String())
	assert.Equal(t, "text/plain", obj.Header().Get("Content-Type"))
}

func TestBasicAuth(t *testing.T) {
	dir := uploadTree(t, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.PreviewConfig{
		BasicAuth: config.BasicAuthConfig{
			Enabled: true,
			Users:   []config.BasicAuthUser{{Username: "ops", PasswordHash: string(hash)}},
		},
	}

	h := newTestServer(t, cfg, dir, nil).buildRouter()

	t.Run("health is public", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	})

	t.Run("missing credentials", func(t *testing.T) {
		rec := get(t, h, "/ci/42/index.html")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := get(t, h, "/ci/42/index.html", func(r *http.Request) {
			r.SetBasicAuth("ops", "nope")
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := get(t, h, "/ci/42/index.html", func(r *http.Request) {
			r.SetBasicAuth("root", "s3cret")
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid credentials", func(t *testing.T) {
		rec := get(t, h, "/ci/42/index.html", func(r *http.Request) {
			r.SetBasicAuth("ops", "s3cret")
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	dir := uploadTree(t, nil)

	cfg := &config.PreviewConfig{
		RateLimit: config.PreviewRateLimit{Enabled: true, RequestsPerMinute: 2},
	}

	h := newTestServer(t, cfg, dir, nil).buildRouter()

	fromIP := func(r *http.Request) { r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2") }

	assert.Equal(t, http.StatusOK, get(t, h, "/ci/42/index.html", fromIP).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/ci/42/index.html", fromIP).Code)

	limited := get(t, h, "/ci/42/index.html", fromIP)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(t, h, "/ci/42/index.html").Code, "other clients are unaffected")
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", fromIP).Code, "health is not limited")
}

func TestClientLimits(t *testing.T) {
	limits := newClientLimits(60)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("burst then refill", func(t *testing.T) {
		for range 60 {
			ok, _ := limits.allow("a", t0)
			require.True(t, ok)
		}

		ok, wait := limits.allow("a", t0)
		assert.False(t, ok)
		assert.Equal(t, time.Second, wait)

		ok, _ = limits.allow("a", t0.Add(time.Second))
		assert.True(t, ok, "one request per second is refilled")
	})

	t.Run("idle clients are evicted", func(t *testing.T) {
		ok, _ := limits.allow("b", t0.Add(clientIdleTTL+2*clientSweepInterval))
		require.True(t, ok)

		limits.mu.Lock()
		defer limits.mu.Unlock()

		assert.NotContains(t, limits.buckets, "a")
		assert.Contains(t, limits.buckets, "b")
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, &config.PreviewConfig{
		CORSOrigins: []string{"https://ci.example.com"},
	}, t.TempDir(), nil).buildRouter()

	allowed := get(t, h, "/healthz", func(r *http.Request) {
		r.Header.Set("Origin", "https://ci.example.com")
	})
	assert.Equal(t, "https://ci.example.com", allowed.Header().Get("Access-Control-Allow-Origin"))

	denied := get(t, h, "/healthz", func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example.com")
	})
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
}

func TestManifestEndpoints(t *testing.T) {
	store := manifest.NewStore(newTestLogger(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, store.Start(context.Background()))

	t.Cleanup(func() { _ = store.Stop() })

	dir := uploadTree(t, store)
	h := newTestServer(t, &config.PreviewConfig{}, dir, store).buildRouter()

	t.Run("list runs", func(t *testing.T) {
		rec := get(t, h, "/_manifest/runs")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Runs []string `json:"runs"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, []string{"run-1"}, body.Runs)
	})

	t.Run("get run", func(t *testing.T) {
		rec := get(t, h, "/_manifest/runs/run-1")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			RunID   string          `json:"run_id"`
			Objects []entryResponse `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "run-1", body.RunID)

		byName := make(map[string]entryResponse, len(body.Objects))
		for _, o := range body.Objects {
			byName[o.Object] = o
		}

		require.Len(t, byName, 6)
		assert.Equal(t, manifest.KindFile, byName["ci/42/logs/run_tests.log"].Kind)
		assert.Equal(t, int64(5), byName["ci/42/logs/run_tests.log"].Size)
		assert.Len(t, byName["ci/42/logs/run_tests.log"].Checksum, 56)
		assert.Equal(t, manifest.KindIndex, byName["ci/42/index.html"].Kind)
	})

	t.Run("unknown run", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(t, h, "/_manifest/runs/nope").Code)
	})
}

func TestServer_StartStop(t *testing.T) {
	dir := uploadTree(t, nil)

	srv := NewServer(newTestLogger(), &config.PreviewConfig{Listen: "127.0.0.1:0"}, dir, testContainer, nil)
	require.NoError(t, srv.Start(context.Background()))

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/ci/42/index.html", srv.Addr()))
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Index of ci/42")

	require.NoError(t, srv.Stop())
}
