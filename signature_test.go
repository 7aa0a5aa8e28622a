package stowdrive_test

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sagarc03/stowdrive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signerNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newSigner(now time.Time) *stowdrive.Signer {
	return stowdrive.NewSigner(stowdrive.SignerConfig{
		BasePath: "dav/",
		Username: "alice",
		Password: "wonderland",
		Secret:   "capability-secret",
		Now:      func() time.Time { return now },
	})
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestSigner_VerifyCredential(t *testing.T) {
	signer := newSigner(signerNow)
	good := stowdrive.BasicCredential("alice", "wonderland")

	tt := []struct {
		name   string
		rawURL string
		header string
		ok     bool
	}{
		{name: "authorization header", rawURL: "/dav/a.txt", header: good, ok: true},
		{name: "auth query parameter", rawURL: "/dav/a.txt?auth=" + url.QueryEscape(good), ok: true},
		{name: "wrong password", rawURL: "/dav/a.txt", header: stowdrive.BasicCredential("alice", "nope")},
		{name: "no credential", rawURL: "/dav/a.txt"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.header != "" {
				h.Set("Authorization", tc.header)
			}

			grant, err := signer.Verify(http.MethodDelete, mustParse(t, tc.rawURL), h)
			if !tc.ok {
				assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, stowdrive.AuthCredential, grant.Method)
			assert.True(t, grant.FullControl)
		})
	}
}

func TestSigner_NotConfigured(t *testing.T) {
	signer := stowdrive.NewSigner(stowdrive.SignerConfig{BasePath: "/dav"})
	assert.False(t, signer.Configured())

	_, err := signer.Verify(http.MethodGet, mustParse(t, "/dav/a.txt"), http.Header{})
	assert.ErrorIs(t, err, stowdrive.ErrForbidden)

	_, err = signer.SignKey("a.txt", stowdrive.CapabilityOptions{})
	assert.ErrorIs(t, err, stowdrive.ErrInvalidInput)
}

func TestSigner_Capability(t *testing.T) {
	signer := newSigner(signerNow)

	link, err := signer.SignKey("docs/report.pdf", stowdrive.CapabilityOptions{Scope: "docs", TTL: time.Hour})
	require.NoError(t, err)

	u := mustParse(t, link)
	assert.Equal(t, "/dav/docs/report.pdf", u.Path)
	assert.Equal(t, "docs", u.Query().Get(stowdrive.ParamScope))
	assert.NotEmpty(t, u.Query().Get(stowdrive.ParamToken))

	grant, err := signer.Verify(http.MethodGet, u, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, stowdrive.AuthCapability, grant.Method)
	assert.False(t, grant.FullControl)
	assert.Equal(t, "docs", grant.Scope)

	t.Run("cache bust parameter is ignored", func(t *testing.T) {
		busted := *u
		q := busted.Query()
		q.Set(stowdrive.ParamCacheBust, "12345")
		busted.RawQuery = q.Encode()

		_, err := signer.Verify(http.MethodHead, &busted, http.Header{})
		assert.NoError(t, err)
	})

	t.Run("read-only capability cannot write", func(t *testing.T) {
		_, err := signer.Verify(http.MethodDelete, u, http.Header{})
		assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
	})

	t.Run("signature is bound to the path", func(t *testing.T) {
		other := *u
		other.Path = "/dav/docs/other.pdf"
		_, err := signer.Verify(http.MethodGet, &other, http.Header{})
		assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
	})

	t.Run("tampered scope", func(t *testing.T) {
		tampered := *u
		q := tampered.Query()
		q.Set(stowdrive.ParamScope, "")
		tampered.RawQuery = q.Encode()
		_, err := signer.Verify(http.MethodGet, &tampered, http.Header{})
		assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		later := newSigner(signerNow.Add(2 * time.Hour))
		_, err := later.Verify(http.MethodGet, u, http.Header{})
		assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
	})

	t.Run("other secret", func(t *testing.T) {
		other := stowdrive.NewSigner(stowdrive.SignerConfig{BasePath: "/dav", Secret: "different", Now: func() time.Time { return signerNow }})
		_, err := other.Verify(http.MethodGet, u, http.Header{})
		assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
	})
}

func TestSigner_CapabilityScopeAndControl(t *testing.T) {
	signer := newSigner(signerNow)

	t.Run("full control allows writes", func(t *testing.T) {
		link, err := signer.SignKey("inbox/draft.txt", stowdrive.CapabilityOptions{FullControl: true})
		require.NoError(t, err)

		grant, err := signer.Verify(http.MethodPut, mustParse(t, link), http.Header{})
		require.NoError(t, err)
		assert.True(t, grant.FullControl)
		assert.Empty(t, grant.Scope)
	})

	t.Run("key outside scope", func(t *testing.T) {
		link, err := signer.SignKey("private/secret.txt", stowdrive.CapabilityOptions{Scope: "public"})
		require.NoError(t, err)

		_, err = signer.Verify(http.MethodGet, mustParse(t, link), http.Header{})
		assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
	})

	t.Run("path outside base path", func(t *testing.T) {
		query, err := signer.Sign("/api/shares", stowdrive.CapabilityOptions{})
		require.NoError(t, err)

		u := &url.URL{Path: "/api/shares", RawQuery: query.Encode()}
		_, err = signer.Verify(http.MethodGet, u, http.Header{})
		assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
	})

	t.Run("no expiry without ttl", func(t *testing.T) {
		link, err := signer.SignKey("a.txt", stowdrive.CapabilityOptions{})
		require.NoError(t, err)
		u := mustParse(t, link)
		assert.False(t, u.Query().Has(stowdrive.ParamExpires))

		later := newSigner(signerNow.Add(365 * 24 * time.Hour))
		_, err = later.Verify(http.MethodGet, u, http.Header{})
		assert.NoError(t, err)
	})

	t.Run("extra parameters are signed", func(t *testing.T) {
		link, err := signer.SignKey("a.txt", stowdrive.CapabilityOptions{Extra: url.Values{"download": {"1"}}})
		require.NoError(t, err)
		u := mustParse(t, link)
		_, err = signer.Verify(http.MethodGet, u, http.Header{})
		require.NoError(t, err)

		q := u.Query()
		q.Set("download", "0")
		u.RawQuery = q.Encode()
		_, err = signer.Verify(http.MethodGet, u, http.Header{})
		assert.ErrorIs(t, err, stowdrive.ErrUnauthorized)
	})
}

func TestSigner_KeyPath(t *testing.T) {
	signer := newSigner(signerNow)
	assert.Equal(t, "/dav/", signer.KeyPath(""))
	assert.Equal(t, "/dav/a/b", signer.KeyPath("a/b"))

	rootSigner := stowdrive.NewSigner(stowdrive.SignerConfig{BasePath: "/", Secret: "s"})
	assert.Equal(t, "/a/b", rootSigner.KeyPath("a/b"))
}

func TestCapabilityPayload(t *testing.T) {
	q := url.Values{"b": {"2"}, "a": {"1"}, "token": {"x"}, "_ts": {"9"}}
	assert.Equal(t, "/dav/a?a=1&b=2", stowdrive.CapabilityPayload("/dav/a", q))
}

func TestSigner_EchoCredential(t *testing.T) {
	signer := newSigner(signerNow)
	credGrant := stowdrive.Grant{Method: stowdrive.AuthCredential, FullControl: true}

	newReq := func(method, target string, app bool) *http.Request {
		r := httptest.NewRequest(method, target, nil)
		if app {
			r.Header.Set(stowdrive.AppHeader, "1")
		}
		return r
	}

	cred, ok := signer.EchoCredential(newReq("PROPFIND", "http://localhost/dav/", true), credGrant)
	assert.True(t, ok)
	assert.Equal(t, stowdrive.BasicCredential("alice", "wonderland"), cred)

	_, ok = signer.EchoCredential(newReq("PROPFIND", "http://localhost/dav/", false), credGrant)
	assert.False(t, ok, "requires the app header")

	_, ok = signer.EchoCredential(newReq(http.MethodGet, "http://localhost/dav/", true), credGrant)
	assert.False(t, ok, "only PROPFIND")

	_, ok = signer.EchoCredential(newReq("PROPFIND", "http://drive.example.com/dav/", true), credGrant)
	assert.False(t, ok, "plain http to a remote host")

	_, ok = signer.EchoCredential(newReq("PROPFIND", "http://localhost/dav/", true), stowdrive.Grant{Method: stowdrive.AuthCapability})
	assert.False(t, ok, "capability requests never see the credential")
}

func TestIsSecureOrigin(t *testing.T) {
	tt := []struct {
		name  string
		setup func(r *http.Request)
		want  bool
	}{
		{name: "localhost", setup: func(r *http.Request) { r.Host = "localhost:5708" }, want: true},
		{name: "loopback ip", setup: func(r *http.Request) { r.Host = "127.0.0.1:5708" }, want: true},
		{name: "ipv6 loopback", setup: func(r *http.Request) { r.Host = "[::1]:5708" }, want: true},
		{name: "remote http", setup: func(r *http.Request) { r.Host = "drive.example.com" }, want: false},
		{name: "tls", setup: func(r *http.Request) { r.Host = "drive.example.com"; r.TLS = &tls.ConnectionState{} }, want: true},
		{name: "forwarded https", setup: func(r *http.Request) {
			r.Host = "drive.example.com"
			r.Header.Set("X-Forwarded-Proto", "https")
		}, want: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(r)
			assert.Equal(t, tc.want, stowdrive.IsSecureOrigin(r))
		})
	}
}
