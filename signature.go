package stowdrive

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// AppHeader marks requests issued by the bundled web client.
	AppHeader = "X-Stowdrive-App"
	// EchoCredentialHeader carries the direct credential back to the web client.
	EchoCredentialHeader = "X-Stowdrive-Authorization"

	ParamToken       = "token"
	ParamScope       = "scope"
	ParamExpires     = "expires"
	ParamFullControl = "fullControl"
	ParamAuth        = "auth"
	// ParamCacheBust is ignored when signing so clients may append it freely.
	ParamCacheBust = "_ts"
)

// AuthMethod tells how a request was authenticated.
type AuthMethod int

const (
	AuthCredential AuthMethod = iota + 1
	AuthCapability
)

// Grant is the outcome of a successful verification.
type Grant struct {
	Method      AuthMethod
	FullControl bool
	Scope       string
}

type SignerConfig struct {
	// BasePath is the URL prefix the drive is served under (e.g. "/dav").
	BasePath string
	Username string
	Password string
	// Secret signs capability URLs. Empty disables capabilities.
	Secret string
	Now    func() time.Time
}

// Signer verifies direct credentials and signed capability URLs, and mints
// new capabilities.
type Signer struct {
	basePath   string
	credential string
	secret     []byte
	now        func() time.Time
}

func NewSigner(cfg SignerConfig) *Signer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var credential string
	if cfg.Username != "" || cfg.Password != "" {
		credential = BasicCredential(cfg.Username, cfg.Password)
	}

	return &Signer{
		basePath:   "/" + strings.Trim(cfg.BasePath, "/"),
		credential: credential,
		secret:     []byte(cfg.Secret),
		now:        now,
	}
}

// BasicCredential returns the Authorization header value for user and password.
func BasicCredential(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// Configured reports whether any authentication method is available.
func (s *Signer) Configured() bool {
	return s.credential != "" || len(s.secret) > 0
}

// Verify authenticates a request.
//
// A request carrying a token query parameter is verified as a capability:
// the HMAC-SHA256 of the path and sorted query (without token and _ts) must
// match, the path must lie within scope, expires must not have passed and
// non-read methods need fullControl. Any other request must present the
// direct credential in the Authorization header or the auth query parameter.
//
// Returns ErrForbidden when no authentication method is configured and
// ErrUnauthorized for every other failure.
func (s *Signer) Verify(method string, u *url.URL, header http.Header) (Grant, error) {
	if !s.Configured() {
		return Grant{}, fmt.Errorf("verify: no authentication configured: %w", ErrForbidden)
	}

	query := u.Query()
	if query.Has(ParamToken) {
		return s.verifyCapability(method, u.Path, query)
	}

	return s.verifyCredential(header.Get("Authorization"), query.Get(ParamAuth))
}

func (s *Signer) verifyCredential(header, param string) (Grant, error) {
	if s.credential == "" {
		return Grant{}, fmt.Errorf("verify credential: not configured: %w", ErrUnauthorized)
	}

	presented := header
	if presented == "" {
		presented = param
	}

	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.credential)) != 1 {
		return Grant{}, fmt.Errorf("verify credential: mismatch: %w", ErrUnauthorized)
	}

	return Grant{Method: AuthCredential, FullControl: true}, nil
}

func (s *Signer) verifyCapability(method, path string, query url.Values) (Grant, error) {
	if len(s.secret) == 0 {
		return Grant{}, fmt.Errorf("verify capability: no secret: %w", ErrUnauthorized)
	}

	expected := hex.EncodeToString(hmacSHA256(s.secret, []byte(CapabilityPayload(path, query))))
	if !hmac.Equal([]byte(expected), []byte(query.Get(ParamToken))) {
		return Grant{}, fmt.Errorf("verify capability: signature mismatch: %w", ErrUnauthorized)
	}

	if raw := query.Get(ParamExpires); raw != "" {
		expires, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Grant{}, fmt.Errorf("verify capability: invalid expires: %w", ErrUnauthorized)
		}
		if s.now().Unix() > expires {
			return Grant{}, fmt.Errorf("verify capability: expired: %w", ErrUnauthorized)
		}
	}

	rel, ok := s.relativeKey(path)
	if !ok {
		return Grant{}, fmt.Errorf("verify capability: path outside drive: %w", ErrUnauthorized)
	}

	scope := strings.Trim(query.Get(ParamScope), "/")
	if !IsWithin(rel, scope) {
		return Grant{}, fmt.Errorf("verify capability: out of scope: %w", ErrUnauthorized)
	}

	full := isTruthy(query.Get(ParamFullControl))
	if !full && !Verb(strings.ToUpper(method)).IsRead() {
		return Grant{}, fmt.Errorf("verify capability: %s needs full control: %w", method, ErrUnauthorized)
	}

	return Grant{Method: AuthCapability, FullControl: full, Scope: scope}, nil
}

func (s *Signer) relativeKey(path string) (string, bool) {
	if s.basePath == "/" {
		return NormalizeKey(path), true
	}
	if path != s.basePath && !strings.HasPrefix(path, s.basePath+"/") {
		return "", false
	}
	return NormalizeKey(strings.TrimPrefix(path, s.basePath)), true
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// CapabilityPayload is the string signed for a capability URL: the path,
// "?", and the query sorted by key without token and _ts.
func CapabilityPayload(path string, query url.Values) string {
	params := url.Values{}
	for k, v := range query {
		if k != ParamToken && k != ParamCacheBust {
			params[k] = v
		}
	}
	return path + "?" + params.Encode()
}

// CapabilityOptions shape a minted capability.
type CapabilityOptions struct {
	// Scope limits the capability to a subtree. Empty means the whole drive.
	Scope string
	// TTL sets expires relative to now. Zero mints a non-expiring capability.
	TTL         time.Duration
	FullControl bool
	// Extra query parameters covered by the signature.
	Extra url.Values
}

// Sign returns the query parameters, token included, authorising requests
// to path. path is the full request path including the base path.
func (s *Signer) Sign(path string, opts CapabilityOptions) (url.Values, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("sign: no secret configured: %w", ErrInvalidInput)
	}

	query := url.Values{}
	for k, v := range opts.Extra {
		query[k] = append([]string(nil), v...)
	}

	query.Set(ParamScope, strings.Trim(opts.Scope, "/"))
	if opts.TTL > 0 {
		query.Set(ParamExpires, strconv.FormatInt(s.now().Add(opts.TTL).Unix(), 10))
	}
	if opts.FullControl {
		query.Set(ParamFullControl, "1")
	}

	query.Set(ParamToken, hex.EncodeToString(hmacSHA256(s.secret, []byte(CapabilityPayload(path, query)))))

	return query, nil
}

// SignKey mints a capability for key and returns the path with its query.
func (s *Signer) SignKey(key string, opts CapabilityOptions) (string, error) {
	path := s.KeyPath(key)
	query, err := s.Sign(path, opts)
	if err != nil {
		return "", err
	}
	return (&url.URL{Path: path, RawQuery: query.Encode()}).String(), nil
}

// KeyPath returns the request path serving key.
func (s *Signer) KeyPath(key string) string {
	if s.basePath == "/" {
		return "/" + key
	}
	if key == "" {
		return s.basePath + "/"
	}
	return s.basePath + "/" + key
}

// EchoCredential returns the direct credential when it may be handed back
// to the web client: a credential-authenticated PROPFIND from the bundled
// app over https or to localhost.
func (s *Signer) EchoCredential(r *http.Request, grant Grant) (string, bool) {
	if grant.Method != AuthCredential || r.Method != string(VerbPropfind) {
		return "", false
	}
	if r.Header.Get(AppHeader) == "" || !IsSecureOrigin(r) {
		return "", false
	}
	return s.credential, true
}

// IsSecureOrigin reports whether r arrived over TLS (directly or behind a
// proxy) or targets localhost.
func IsSecureOrigin(r *http.Request) bool {
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
