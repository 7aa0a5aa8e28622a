package stowdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ObjectStore is a flat, eventually consistent key/value blob store.
//
// Implementations return ErrNotFound for missing keys, ErrPreconditionFailed
// when Conditions do not hold, ErrRangeNotSatisfiable for ranges past the end
// of an object and ErrNoSuchUpload for unknown multipart uploads.
type ObjectStore interface {
	Head(ctx context.Context, key string) (StoredObject, error)
	Get(ctx context.Context, key string, opts GetOptions) (*ObjectBody, error)
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (StoredObject, error)
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	List(ctx context.Context, opts ListOptions) (ListPage, error)

	CreateMultipartUpload(ctx context.Context, key string, opts PutOptions) (MultipartUpload, error)
	UploadPart(ctx context.Context, upload MultipartUpload, partNumber int, body io.Reader) (UploadedPart, error)
	CompleteMultipartUpload(ctx context.Context, upload MultipartUpload, parts []UploadedPart) (StoredObject, error)
	AbortMultipartUpload(ctx context.Context, upload MultipartUpload) error
}

type GetOptions struct {
	Range  *ByteRange
	OnlyIf Conditions
}

type PutOptions struct {
	HTTPMetadata   HTTPMetadata
	CustomMetadata map[string]string
	OnlyIf         Conditions
}

type ListOptions struct {
	Prefix    string
	Delimiter string
	Cursor    string
	Limit     int
}

// ListPage is one page of a listing. Objects are sorted by key.
type ListPage struct {
	Objects           []StoredObject
	DelimitedPrefixes []string
	Cursor            string
	Truncated         bool
}

// ObjectBody is an open object. Callers must close Body.
type ObjectBody struct {
	StoredObject
	Body io.ReadCloser
	// Range is set when a partial body was requested.
	Range *ContentRange
}

type ContentRange struct {
	Offset int64
	Length int64
}

// Conditions are the "only if" preconditions of a read or write.
type Conditions struct {
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
}

// ConditionsFromHeader reads If-Match, If-None-Match, If-Modified-Since and
// If-Unmodified-Since. Unparseable dates are ignored.
func ConditionsFromHeader(h http.Header) Conditions {
	c := Conditions{
		IfMatch:     h.Get("If-Match"),
		IfNoneMatch: h.Get("If-None-Match"),
	}
	if t, err := http.ParseTime(h.Get("If-Modified-Since")); err == nil {
		c.IfModifiedSince = t
	}
	if t, err := http.ParseTime(h.Get("If-Unmodified-Since")); err == nil {
		c.IfUnmodifiedSince = t
	}
	return c
}

func (c Conditions) IsZero() bool {
	return c.IfMatch == "" && c.IfNoneMatch == "" &&
		c.IfModifiedSince.IsZero() && c.IfUnmodifiedSince.IsZero()
}

// Evaluate checks the conditions against the current object. A nil obj means
// the key does not exist; only If-Match fails in that case.
func (c Conditions) Evaluate(obj *StoredObject) error {
	if obj == nil {
		if c.IfMatch != "" {
			return fmt.Errorf("if-match on missing object: %w", ErrPreconditionFailed)
		}
		return nil
	}

	if c.IfMatch != "" && !etagListMatches(c.IfMatch, obj.ETag) {
		return fmt.Errorf("if-match %s: %w", c.IfMatch, ErrPreconditionFailed)
	}

	if c.IfNoneMatch != "" && etagListMatches(c.IfNoneMatch, obj.ETag) {
		return fmt.Errorf("if-none-match %s: %w", c.IfNoneMatch, ErrPreconditionFailed)
	}

	uploaded := obj.UploadedAt.Truncate(time.Second)

	if !c.IfModifiedSince.IsZero() && !uploaded.After(c.IfModifiedSince) {
		return fmt.Errorf("if-modified-since %s: %w", c.IfModifiedSince.Format(http.TimeFormat), ErrPreconditionFailed)
	}

	if !c.IfUnmodifiedSince.IsZero() && uploaded.After(c.IfUnmodifiedSince) {
		return fmt.Errorf("if-unmodified-since %s: %w", c.IfUnmodifiedSince.Format(http.TimeFormat), ErrPreconditionFailed)
	}

	return nil
}

func etagListMatches(list, etag string) bool {
	etag = TrimETag(etag)
	for _, candidate := range strings.Split(list, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || TrimETag(candidate) == etag {
			return true
		}
	}
	return false
}

// TrimETag strips the weak prefix and quotes from an entity tag.
func TrimETag(etag string) string {
	etag = strings.TrimPrefix(strings.TrimSpace(etag), "W/")
	return strings.Trim(etag, `"`)
}

// QuoteETag formats an entity tag for an HTTP header.
func QuoteETag(etag string) string {
	return `"` + TrimETag(etag) + `"`
}

// ByteRange is a single "bytes=" range. Suffix ranges set only Suffix.
type ByteRange struct {
	Start  int64
	End    int64 // inclusive, -1 when open ended
	Suffix int64
}

// ParseRange parses a Range header. An empty header yields nil. Only a single
// range is supported.
func ParseRange(header string) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, fmt.Errorf("parse range %q: %w", header, ErrRangeNotSatisfiable)
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, fmt.Errorf("parse range %q: %w", header, ErrRangeNotSatisfiable)
	}

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("parse range %q: %w", header, ErrRangeNotSatisfiable)
		}
		return &ByteRange{Suffix: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("parse range %q: %w", header, ErrRangeNotSatisfiable)
	}

	r := &ByteRange{Start: start, End: -1}
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("parse range %q: %w", header, ErrRangeNotSatisfiable)
		}
		r.End = end
	}

	return r, nil
}

// Resolve clamps the range to an object of the given size.
func (r ByteRange) Resolve(size int64) (ContentRange, error) {
	if r.Suffix > 0 {
		n := min(r.Suffix, size)
		if n == 0 {
			return ContentRange{}, fmt.Errorf("resolve range: %w", ErrRangeNotSatisfiable)
		}
		return ContentRange{Offset: size - n, Length: n}, nil
	}

	if r.Start >= size {
		return ContentRange{}, fmt.Errorf("resolve range: start %d beyond size %d: %w", r.Start, size, ErrRangeNotSatisfiable)
	}

	end := size - 1
	if r.End >= 0 && r.End < end {
		end = r.End
	}

	return ContentRange{Offset: r.Start, Length: end - r.Start + 1}, nil
}

// Header formats the range for a Content-Range response header.
func (c ContentRange) Header(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", c.Offset, c.Offset+c.Length-1, size)
}
