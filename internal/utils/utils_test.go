package utils

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "certs", "server.crt")
	key := filepath.Join(dir, "certs", "server.key")
	if err := EnsureSelfSignedCert(cert, key, "area-link.local"); err != nil {
		t.Fatal(err)
	}
	if _, err := tls.LoadX509KeyPair(cert, key); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	st, _ := os.Stat(cert)
	if err := EnsureSelfSignedCert(cert, key, "area-link.local"); err != nil {
		t.Fatal(err)
	}
	st2, _ := os.Stat(cert)
	if !st.ModTime().Equal(st2.ModTime()) {
		t.Error("existing pair must be kept")
	}
}

func TestRedirectHandler(t *testing.T) {
	cases := []struct{ addr, host, want string }{
		{":8443", "example.com:80", "https://example.com:8443/areas/near?lat=1"},
		{":443", "example.com", "https://example.com/areas/near?lat=1"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/areas/near?lat=1", nil)
		req.Host = c.host
		rec := httptest.NewRecorder()
		RedirectHandler(c.addr).ServeHTTP(rec, req)
		if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != c.want {
			t.Errorf("%s: %d %q", c.addr, rec.Code, rec.Header().Get("Location"))
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("AL_TEST_INT", "12")
	t.Setenv("AL_TEST_BAD", "x")
	t.Setenv("AL_TEST_NEG", "-3")
	t.Setenv("AL_TEST_FLOAT", "2.5")
	t.Setenv("AL_TEST_BOOL", "true")
	if EnvInt("AL_TEST_INT", 1) != 12 || EnvInt("AL_TEST_BAD", 1) != 1 || EnvInt("AL_TEST_NEG", 1) != 1 {
		t.Error("EnvInt")
	}
	if EnvFloat("AL_TEST_FLOAT", 1) != 2.5 || EnvFloat("AL_TEST_BAD", 1) != 1 {
		t.Error("EnvFloat")
	}
	if !EnvBool("AL_TEST_BOOL", false) || EnvBool("AL_TEST_BAD", true) || !EnvBool("AL_TEST_UNSET", true) {
		t.Error("EnvBool")
	}
	if Getenv("AL_TEST_UNSET", "d") != "d" {
		t.Error("Getenv")
	}
}

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_USER", "al")
	t.Setenv("PG_PASSWORD", "pw")
	t.Setenv("PG_DB", "")
	dsn := BuildPostgresDSNFromEnv()
	if !strings.HasPrefix(dsn, "postgres://al:pw@db:5432/arealink?") {
		t.Errorf("dsn = %s", dsn)
	}
}

func TestOpenRedis(t *testing.T) {
	if OpenRedis("", "") != nil {
		t.Error("empty addr must disable redis")
	}
	t.Setenv("REDIS_HOST", "off")
	if OpenRedisFromEnv() != nil {
		t.Error("REDIS_HOST=off must disable redis")
	}
}
