package cloud

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/config"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/database"
	_ "github.com/nerrad567/geeny-gateway/migrations"
)

// recordedRequest is one request seen by the fake cloud.
type recordedRequest struct {
	Path          string
	Authorization string
	ContentType   string
	Body          map[string]string
}

// fakeCloud serves canned responses per path and records requests.
type fakeCloud struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func() (int, any)
	server   *httptest.Server
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	f := &fakeCloud{routes: make(map[string]func() (int, any))}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // recorded as-is

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		Body:          body,
	})
	route, ok := f.routes[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	status, resp := route()
	w.WriteHeader(status)
	switch v := resp.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(v)) //nolint:errcheck // test server
	default:
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
	}
}

// handle installs a fixed response for path.
func (f *fakeCloud) handle(path string, status int, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = func() (int, any) { return status, body }
}

func (f *fakeCloud) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeCloud) config() config.CloudConfig {
	return config.CloudConfig{
		Hosts: config.CloudHostsConfig{
			ConnectURL:      f.server.URL + "/",
			ThingManagerURL: f.server.URL,
			Timeout:         5,
		},
		CircuitBreaker: config.CircuitBreakerConfig{MaxFailures: 3, Timeout: 60},
	}
}

func (f *fakeCloud) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(f.config(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

// signedToken returns a JWT expiring at exp.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("cloud-side-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

// newTestRegistry opens an in-memory registration cache with the real schema.
func newTestRegistry(t *testing.T) *device.Registry {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return device.NewRegistry(device.NewSQLiteRepository(db.DB))
}

// testBundle returns a self-signed certificate with a plain EC key.
func testBundle(t *testing.T) Bundle {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "thing"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}
	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	return Bundle{
		CA:   certPEM,
		Cert: certPEM,
		Key:  string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})),
	}
}
