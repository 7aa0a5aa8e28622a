package stowdrive

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RefererMode selects how RefererList is applied.
type RefererMode string

const (
	RefererNoLimit   RefererMode = "NoLimit"
	RefererWhitelist RefererMode = "Whitelist"
	RefererBlacklist RefererMode = "Blacklist"
)

// ShareObject is a public share record. Key is a drive key; a trailing
// slash shares a directory.
type ShareObject struct {
	Key         string      `json:"key" validate:"required,max=1024"`
	Expiration  int64       `json:"expiration,omitempty" validate:"gte=0"`
	RefererList []string    `json:"refererList,omitempty" validate:"omitempty,max=64,dive,max=2048"`
	RefererMode RefererMode `json:"refererMode,omitempty"`
	Auth        string      `json:"auth,omitempty" validate:"omitempty,contains=:,max=512"`
	Desc        string      `json:"desc,omitempty" validate:"max=4096"`
	NoIndex     bool        `json:"noindex,omitempty"`
	CORS        bool        `json:"cors,omitempty"`
}

// ShareRecord pairs a share with its sharekey.
type ShareRecord struct {
	ShareKey string      `json:"sharekey"`
	Share    ShareObject `json:"share"`
}

// ShareStore persists share records. Put must make the record expire at
// ShareObject.Expiration when it is set; stores without native TTL filter
// expired records on read.
type ShareStore interface {
	Get(ctx context.Context, sharekey string) (ShareObject, error)
	Put(ctx context.Context, sharekey string, share ShareObject) error
	Delete(ctx context.Context, sharekey string) error
	List(ctx context.Context, prefix string) ([]ShareRecord, error)
}

var shareKeyRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// IsValidShareKey checks that a sharekey is URL-safe and at most 128 chars.
func IsValidShareKey(k string) bool {
	return shareKeyRegex.MatchString(k)
}

func (s ShareObject) IsDirectory() bool {
	return strings.HasSuffix(s.Key, "/")
}

// Target returns the key shared by s with its directory slash removed.
func (s ShareObject) Target() string {
	return NormalizeKey(s.Key)
}

func (s ShareObject) Expired(now time.Time) bool {
	return s.Expiration > 0 && now.Unix() >= s.Expiration
}

// ExpiresAt returns the expiration time, or the zero time if the share does
// not expire.
func (s ShareObject) ExpiresAt() time.Time {
	if s.Expiration <= 0 {
		return time.Time{}
	}
	return time.Unix(s.Expiration, 0)
}

// Resolve maps a sub-path of the share to a drive key. File shares accept
// only the empty sub-path.
func (s ShareObject) Resolve(subpath string) (string, error) {
	subpath = NormalizeKey(subpath)
	if !s.IsDirectory() {
		if subpath != "" {
			return "", fmt.Errorf("resolve share: %w", ErrNotFound)
		}
		return s.Target(), nil
	}

	key := s.Target()
	if subpath != "" {
		key = ChildPrefix(key) + subpath
	}

	if !IsValidKey(key) || !IsWithin(key, s.Target()) {
		return "", fmt.Errorf("resolve share %q: %w", subpath, ErrInvalidInput)
	}

	return key, nil
}

// CheckAuth reports whether the Authorization header satisfies the share's
// credential. Shares without auth accept any request.
func (s ShareObject) CheckAuth(header string) bool {
	if s.Auth == "" {
		return true
	}
	user, password, _ := strings.Cut(s.Auth, ":")
	return subtle.ConstantTimeCompare([]byte(header), []byte(BasicCredential(user, password))) == 1
}

// AllowsReferer applies the referer policy. host is the request host used
// to detect same-origin referers. An empty mode behaves like NoLimit; an
// unknown mode blocks every request.
func (s ShareObject) AllowsReferer(referer, host string) bool {
	switch s.RefererMode {
	case "", RefererNoLimit:
		return true
	case RefererWhitelist:
		return s.matchesReferer(referer, host)
	case RefererBlacklist:
		return !s.matchesReferer(referer, host)
	default:
		return false
	}
}

func (s ShareObject) matchesReferer(referer, host string) bool {
	for _, pattern := range s.RefererList {
		if pattern == "" {
			if referer == "" || isSameOrigin(referer, host) {
				return true
			}
			continue
		}
		if referer != "" && matchURLPattern(pattern, referer) {
			return true
		}
	}
	return false
}

func isSameOrigin(referer, host string) bool {
	u, err := url.Parse(referer)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// matchURLPattern matches value against pattern where "*" matches any run
// of characters.
func matchURLPattern(pattern, value string) bool {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// ShareRegistry validates and stores public shares.
type ShareRegistry struct {
	store    ShareStore
	validate *validator.Validate
	now      func() time.Time
}

func NewShareRegistry(store ShareStore, now func() time.Time) *ShareRegistry {
	if now == nil {
		now = time.Now
	}
	return &ShareRegistry{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      now,
	}
}

// List returns the unexpired shares whose sharekey starts with prefix.
func (r *ShareRegistry) List(ctx context.Context, prefix string) ([]ShareRecord, error) {
	records, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}

	now := r.now()
	out := make([]ShareRecord, 0, len(records))
	for _, rec := range records {
		if !rec.Share.Expired(now) {
			out = append(out, rec)
		}
	}

	return out, nil
}

// Put creates or replaces a share.
//
// Error types returned:
//   - ErrInvalidInput: malformed sharekey, key or fields, or an expiration
//     that has already passed
func (r *ShareRegistry) Put(ctx context.Context, sharekey string, share ShareObject) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put share: %w", err)
	}

	if !IsValidShareKey(sharekey) {
		return fmt.Errorf("put share %q: %w: invalid sharekey", sharekey, ErrInvalidInput)
	}

	if err := r.validate.Struct(share); err != nil {
		return fmt.Errorf("put share %s: %w: %w", sharekey, ErrInvalidInput, err)
	}

	if !IsValidKey(share.Target()) || strings.HasPrefix(share.Key, "/") || IsPrivateKey(share.Key) {
		return fmt.Errorf("put share %s: %w: invalid key %q", sharekey, ErrInvalidInput, share.Key)
	}

	if share.Expired(r.now()) {
		return fmt.Errorf("put share %s: %w: expiration in the past", sharekey, ErrInvalidInput)
	}

	if err := r.store.Put(ctx, sharekey, share); err != nil {
		return fmt.Errorf("put share %s: %w", sharekey, err)
	}

	return nil
}

func (r *ShareRegistry) Delete(ctx context.Context, sharekey string) error {
	if !IsValidShareKey(sharekey) {
		return fmt.Errorf("delete share %q: %w", sharekey, ErrNotFound)
	}

	if err := r.store.Delete(ctx, sharekey); err != nil {
		return fmt.Errorf("delete share %s: %w", sharekey, err)
	}

	return nil
}

// Get returns an unexpired share. Expiration is enforced here even when the
// store has not evicted the record yet.
func (r *ShareRegistry) Get(ctx context.Context, sharekey string) (ShareObject, error) {
	if !IsValidShareKey(sharekey) {
		return ShareObject{}, fmt.Errorf("get share %q: %w", sharekey, ErrNotFound)
	}

	share, err := r.store.Get(ctx, sharekey)
	if err != nil {
		return ShareObject{}, fmt.Errorf("get share %s: %w", sharekey, err)
	}

	if share.Expired(r.now()) {
		return ShareObject{}, fmt.Errorf("get share %s: expired: %w", sharekey, ErrNotFound)
	}

	return share, nil
}

// TTL returns how long a store should retain share, or zero if forever.
func (s ShareObject) TTL(now time.Time) time.Duration {
	if s.Expiration <= 0 {
		return 0
	}
	return max(time.Unix(s.Expiration, 0).Sub(now), time.Second)
}
