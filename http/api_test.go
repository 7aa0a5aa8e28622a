package http_test

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sagarc03/stowdrive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestShareAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPut, "/api/shares/holiday", strings.NewReader(`{"key":"photos/","desc":"Summer"}`), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, readBody(t, resp))

	resp = env.do(t, http.MethodPut, "/api/shares/report", strings.NewReader(`{"key":"docs/report.pdf","auth":"bob:pw"}`), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, readBody(t, resp))

	t.Run("list", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/shares", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Shares []stowdrive.ShareRecord `json:"shares"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Shares, 2)
		assert.Equal(t, "holiday", body.Shares[0].ShareKey)
		assert.Equal(t, "photos/", body.Shares[0].Share.Key)
		assert.Equal(t, "report", body.Shares[1].ShareKey)
	})

	t.Run("list with prefix", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/shares?prefix=rep", nil, nil)
		var body struct {
			Shares []stowdrive.ShareRecord `json:"shares"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Shares, 1)
		assert.Equal(t, "report", body.Shares[0].ShareKey)
	})

	t.Run("get", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/shares/report", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var rec stowdrive.ShareRecord
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
		assert.Equal(t, "docs/report.pdf", rec.Share.Key)
		assert.Equal(t, "bob:pw", rec.Share.Auth)
	})

	t.Run("delete", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/api/shares/report", nil, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/api/shares/report", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = env.do(t, http.MethodDelete, "/api/shares/report", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestShareAPIValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name     string
		sharekey string
		body     string
		status   int
	}{
		{name: "unknown field", sharekey: "a", body: `{"key":"a.txt","bogus":1}`, status: http.StatusBadRequest},
		{name: "malformed json", sharekey: "a", body: `{`, status: http.StatusBadRequest},
		{name: "missing key", sharekey: "a", body: `{}`, status: http.StatusBadRequest},
		{name: "absolute key", sharekey: "a", body: `{"key":"/etc/passwd"}`, status: http.StatusBadRequest},
		{name: "private key", sharekey: "a", body: `{"key":"_$stowdrive$/thumbnails/x"}`, status: http.StatusBadRequest},
		{name: "traversal", sharekey: "a", body: `{"key":"docs/../secret"}`, status: http.StatusBadRequest},
		{name: "auth without colon", sharekey: "a", body: `{"key":"a.txt","auth":"nocolon"}`, status: http.StatusBadRequest},
		{name: "past expiration", sharekey: "a", body: `{"key":"a.txt","expiration":` + strconv.FormatInt(past, 10) + `}`, status: http.StatusBadRequest},
		{name: "bad sharekey", sharekey: "-dash", body: `{"key":"a.txt"}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPut, "/api/shares/"+tt.sharekey, strings.NewReader(tt.body), nil)
			assert.Equal(t, tt.status, resp.StatusCode, readBody(t, resp))
		})
	}
}

func TestShareAPIRequiresCredential(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/shares", nil, map[string]string{"Authorization": "-"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// capabilities are bound to drive paths
	target, err := env.signer.SignKey("", stowdrive.CapabilityOptions{FullControl: true})
	require.NoError(t, err)
	resp = env.do(t, http.MethodGet, "/api/shares?"+strings.SplitN(target, "?", 2)[1], nil, map[string]string{"Authorization": "-"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestThumbnailAPI(t *testing.T) {
	thumbs := new(MockThumbnails)
	env := newTestEnv(t, thumbs)

	thumbs.On("Generate", mock.Anything, "photos/cat pic.jpg", true).Return(stowdrive.ThumbnailGenerated, nil).Once()
	thumbs.On("Generate", mock.Anything, "missing.jpg", false).Return(stowdrive.ThumbnailOutcome(""), stowdrive.ErrNotFound).Once()
	thumbs.On("GenerateAll", mock.Anything, "photos", false).Return(stowdrive.ThumbnailReport{
		Outcomes: map[stowdrive.ThumbnailOutcome]int{stowdrive.ThumbnailGenerated: 3, stowdrive.ThumbnailNotImage: 1},
		Failed:   1,
	}, nil).Once()

	t.Run("single", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/thumbnails/photos/cat%20pic.jpg?force=true", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"key":"photos/cat pic.jpg","outcome":"generated"}`, readBody(t, resp))
	})

	t.Run("missing object", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/thumbnails/missing.jpg", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("batch", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/thumbnails?prefix=/photos/", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"outcomes":{"generated":3,"not-image":1},"failed":1}`, readBody(t, resp))
	})

	t.Run("invalid prefix", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/thumbnails?prefix=a/../b", nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	thumbs.AssertExpectations(t)
}

func TestThumbnailAPIDisabled(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/thumbnails/a.jpg", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "thumbnails_disabled")

	resp = env.do(t, http.MethodPost, "/api/thumbnails", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCapabilityScopedCopy(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mkcol(t, "shared")
	env.mkcol(t, "private")
	env.put(t, "shared/a.txt", "a")

	copyTo := func(dst string) int {
		target, err := env.signer.SignKey("shared/a.txt", stowdrive.CapabilityOptions{Scope: "shared", FullControl: true})
		require.NoError(t, err)
		resp := env.do(t, "COPY", target, nil, map[string]string{"Authorization": "-", "Destination": dst})
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusCreated, copyTo("/dav/shared/b.txt"))
	assert.Equal(t, http.StatusForbidden, copyTo("/dav/private/b.txt"))

	resp := env.do(t, http.MethodHead, "/dav/private/b.txt", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCapabilityRead(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mkcol(t, "docs")
	env.put(t, "docs/a.txt", "secret")

	target, err := env.signer.SignKey("docs/a.txt", stowdrive.CapabilityOptions{Scope: "docs", TTL: time.Hour})
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, target, nil, map[string]string{"Authorization": "-"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "secret", readBody(t, resp))

	resp = env.do(t, http.MethodDelete, target, nil, map[string]string{"Authorization": "-"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthDisabled(t *testing.T) {
	env := newTestEnv(t, nil, withoutAuth())

	resp := env.do(t, "PROPFIND", "/dav/", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEchoCredentialOverLoopback(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "PROPFIND", "/dav/", nil, map[string]string{"Depth": "0", stowdrive.AppHeader: "web"})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Equal(t, stowdrive.BasicCredential(testUser, testPass), resp.Header.Get(stowdrive.EchoCredentialHeader))
}
