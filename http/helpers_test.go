package http_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/filesystem"
	drivehttp "github.com/sagarc03/stowdrive/http"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testUser   = "alice"
	testPass   = "wonderland"
	testSecret = "capability-secret"
)

// memShareStore keeps shares in a map.
type memShareStore struct {
	mu     sync.Mutex
	shares map[string]stowdrive.ShareObject
}

func newMemShareStore() *memShareStore {
	return &memShareStore{shares: make(map[string]stowdrive.ShareObject)}
}

func (m *memShareStore) Get(_ context.Context, sharekey string) (stowdrive.ShareObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[sharekey]
	if !ok {
		return stowdrive.ShareObject{}, stowdrive.ErrNotFound
	}
	return s, nil
}

func (m *memShareStore) Put(_ context.Context, sharekey string, share stowdrive.ShareObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[sharekey] = share
	return nil
}

func (m *memShareStore) Delete(_ context.Context, sharekey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shares[sharekey]; !ok {
		return stowdrive.ErrNotFound
	}
	delete(m.shares, sharekey)
	return nil
}

func (m *memShareStore) List(_ context.Context, prefix string) ([]stowdrive.ShareRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []stowdrive.ShareRecord
	for k, s := range m.shares {
		if strings.HasPrefix(k, prefix) {
			out = append(out, stowdrive.ShareRecord{ShareKey: k, Share: s})
		}
	}
	slices.SortFunc(out, func(a, b stowdrive.ShareRecord) int { return strings.Compare(a.ShareKey, b.ShareKey) })
	return out, nil
}

// MockThumbnails is a mock implementation of http.Thumbnails
type MockThumbnails struct {
	mock.Mock
}

func (m *MockThumbnails) Generate(ctx context.Context, key string, force bool) (stowdrive.ThumbnailOutcome, error) {
	args := m.Called(ctx, key, force)
	return args.Get(0).(stowdrive.ThumbnailOutcome), args.Error(1)
}

func (m *MockThumbnails) GenerateAll(ctx context.Context, prefix string, force bool) (stowdrive.ThumbnailReport, error) {
	args := m.Called(ctx, prefix, force)
	return args.Get(0).(stowdrive.ThumbnailReport), args.Error(1)
}

type testEnv struct {
	server *httptest.Server
	client *http.Client
	drive  *stowdrive.DriveService
	signer *stowdrive.Signer
	shares *memShareStore
}

type envConfig struct {
	handler  drivehttp.HandlerConfig
	signer   stowdrive.SignerConfig
	pageSize int
}

type envOption func(*envConfig)

func withoutAuth() envOption {
	return func(c *envConfig) {
		c.signer.Username, c.signer.Password, c.signer.Secret = "", "", ""
	}
}

func withMaxUpload(n int64) envOption {
	return func(c *envConfig) {
		c.handler.MaxUploadSize = n
	}
}

func withPageSize(n int) envOption {
	return func(c *envConfig) {
		c.pageSize = n
	}
}

func newTestEnv(t *testing.T, thumbnails drivehttp.Thumbnails, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{
		handler: drivehttp.HandlerConfig{Logger: slog.New(slog.DiscardHandler)},
		signer:  stowdrive.SignerConfig{BasePath: "/dav", Username: testUser, Password: testPass, Secret: testSecret},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	root, err := os.OpenRoot(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	store, err := filesystem.NewFileStorage(root)
	require.NoError(t, err)

	drive, err := stowdrive.NewDriveService(stowdrive.DriveConfig{
		Store:    store,
		PageSize: cfg.pageSize,
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	signerCfg := cfg.signer
	handlerCfg := cfg.handler

	signer := stowdrive.NewSigner(signerCfg)
	handlerCfg.Signer = signer

	shares := newMemShareStore()
	registry := stowdrive.NewShareRegistry(shares, nil)

	handler := drivehttp.NewHandler(&handlerCfg, drive, registry, thumbnails)

	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	return &testEnv{server: srv, client: client, drive: drive, signer: signer, shares: shares}
}

// do sends a request authenticated with the direct credential unless the
// headers set Authorization themselves ("-" sends none).
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)

	req.Header.Set("Authorization", stowdrive.BasicCredential(testUser, testPass))
	for k, v := range headers {
		if k == "Authorization" && v == "-" {
			req.Header.Del("Authorization")
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func (e *testEnv) put(t *testing.T, key, content string) {
	t.Helper()
	resp := e.do(t, http.MethodPut, "/dav/"+key, strings.NewReader(content), map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, readBody(t, resp))
}

func (e *testEnv) mkcol(t *testing.T, key string) {
	t.Helper()
	resp := e.do(t, "MKCOL", "/dav/"+key, nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, readBody(t, resp))
}
