package stowdrive

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// DirectoryContentType marks a zero-length object as a directory.
const DirectoryContentType = "application/x-directory"

// PrivatePrefix holds gateway-internal objects such as thumbnails. Keys under it
// never show up in listings.
const PrivatePrefix = "_$stowdrive$/"

// ThumbnailMetadataKey is the custom metadata entry carrying the thumbnail digest.
const ThumbnailMetadataKey = "thumbnail"

type HTTPMetadata struct {
	ContentType        string `json:"contentType,omitempty"`
	ContentDisposition string `json:"contentDisposition,omitempty"`
	ContentLanguage    string `json:"contentLanguage,omitempty"`
}

type Checksums struct {
	MD5    string `json:"md5,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

// StoredObject describes an object in the store. Values are treated as
// immutable; use the With* methods to derive modified copies.
type StoredObject struct {
	Key            string            `json:"key"`
	Size           int64             `json:"size"`
	UploadedAt     time.Time         `json:"uploaded"`
	ETag           string            `json:"etag"`
	HTTPMetadata   HTTPMetadata      `json:"httpMetadata"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
	Checksums      Checksums         `json:"checksums"`
}

// RootObject returns the synthetic root directory. It is never stored.
func RootObject() StoredObject {
	return StoredObject{
		Key:          "",
		HTTPMetadata: HTTPMetadata{ContentType: DirectoryContentType},
	}
}

func (o StoredObject) IsDir() bool {
	return o.HTTPMetadata.ContentType == DirectoryContentType
}

func (o StoredObject) IsRoot() bool {
	return o.Key == ""
}

// Thumbnail returns the digest of the object's thumbnail, if any.
func (o StoredObject) Thumbnail() string {
	return o.CustomMetadata[ThumbnailMetadataKey]
}

// WithCustomMetadata returns a copy of o with key set to value. The receiver's
// map is left untouched.
func (o StoredObject) WithCustomMetadata(key, value string) StoredObject {
	md := make(map[string]string, len(o.CustomMetadata)+1)
	maps.Copy(md, o.CustomMetadata)
	md[key] = value
	o.CustomMetadata = md
	return o
}

// CloneCustomMetadata returns a copy of the custom metadata map.
func (o StoredObject) CloneCustomMetadata() map[string]string {
	if o.CustomMetadata == nil {
		return nil
	}
	return maps.Clone(o.CustomMetadata)
}

// ThumbnailKey returns the private key of the thumbnail with the given digest.
func ThumbnailKey(digest string) string {
	return PrivatePrefix + "thumbnails/" + digest
}

// IsPrivateKey reports whether key lives under PrivatePrefix.
func IsPrivateKey(key string) bool {
	return strings.HasPrefix(key, PrivatePrefix)
}

// Depth is the WebDAV Depth header.
type Depth int

const (
	DepthZero Depth = iota
	DepthOne
	DepthInfinity
)

func (d Depth) String() string {
	switch d {
	case DepthZero:
		return "0"
	case DepthOne:
		return "1"
	case DepthInfinity:
		return "infinity"
	default:
		return fmt.Sprintf("Depth(%d)", int(d))
	}
}

// ParseDepth parses a Depth header value. An empty value means infinity.
func ParseDepth(s string) (Depth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "infinity":
		return DepthInfinity, nil
	case "0":
		return DepthZero, nil
	case "1":
		return DepthOne, nil
	default:
		return 0, fmt.Errorf("parse depth: %q: %w", s, ErrInvalidInput)
	}
}

// Verb is the closed set of protocol methods understood by the gateway.
type Verb string

const (
	VerbPropfind Verb = "PROPFIND"
	VerbMkcol    Verb = "MKCOL"
	VerbHead     Verb = "HEAD"
	VerbGet      Verb = "GET"
	VerbPost     Verb = "POST"
	VerbPut      Verb = "PUT"
	VerbCopy     Verb = "COPY"
	VerbMove     Verb = "MOVE"
	VerbDelete   Verb = "DELETE"
	VerbOptions  Verb = "OPTIONS"
)

// Verbs lists every supported verb in the order advertised by OPTIONS.
var Verbs = []Verb{
	VerbPropfind, VerbMkcol, VerbHead, VerbGet, VerbPost,
	VerbPut, VerbCopy, VerbMove, VerbDelete, VerbOptions,
}

func (v Verb) IsValid() bool {
	switch v {
	case VerbPropfind, VerbMkcol, VerbHead, VerbGet, VerbPost,
		VerbPut, VerbCopy, VerbMove, VerbDelete, VerbOptions:
		return true
	default:
		return false
	}
}

// IsRead reports whether v only reads state.
func (v Verb) IsRead() bool {
	switch v {
	case VerbGet, VerbHead, VerbPropfind, VerbOptions:
		return true
	default:
		return false
	}
}

func ParseVerb(method string) (Verb, error) {
	v := Verb(strings.ToUpper(method))
	if !v.IsValid() {
		return "", fmt.Errorf("parse verb: %s: %w", method, ErrMethodNotAllowed)
	}
	return v, nil
}

type MultipartUpload struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
}

type UploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}
