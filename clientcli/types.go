package clientcli

import "time"

// UploadOptions configures an upload operation.
type UploadOptions struct {
	LocalPath   string
	RemotePath  string
	ContentType string // optional, auto-detect if empty
	Recursive   bool
}

// UploadResult represents the result of uploading a single file.
type UploadResult struct {
	LocalPath   string `json:"local_path"`
	RemotePath  string `json:"remote_path"`
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
	Size        int64  `json:"size_bytes"`
	// Parts is the number of parts of a multipart upload, 0 for a single PUT.
	Parts int   `json:"parts,omitempty"`
	Err   error `json:"-"` // nil on success
}

// DownloadOptions configures a download operation.
type DownloadOptions struct {
	RemotePath string
	LocalPath  string // empty = derive from remote, "-" = stdout
}

// DownloadResult represents the result of downloading a file.
type DownloadResult struct {
	RemotePath  string `json:"remote_path"`
	LocalPath   string `json:"local_path"`
	ETag        string `json:"etag"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size_bytes"`
}

// DeleteOptions configures a delete operation.
type DeleteOptions struct {
	Paths []string
}

// DeleteResult represents the result of deleting a single path.
type DeleteResult struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
	Err     error  `json:"-"` // nil on success
}

// ListOptions configures a list operation.
type ListOptions struct {
	Path      string
	Recursive bool // Depth: infinity instead of 1
}

// ListResult holds the entries beneath a directory, the directory itself
// excluded.
type ListResult struct {
	Path  string       `json:"path"`
	Items []ObjectInfo `json:"items"`
}

// ObjectInfo describes one PROPFIND entry.
type ObjectInfo struct {
	Path        string    `json:"path"`
	IsDir       bool      `json:"is_dir"`
	ContentType string    `json:"content_type,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	Size        int64     `json:"size_bytes"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
}

// MkdirOptions configures a mkdir operation.
type MkdirOptions struct {
	Path    string
	Parents bool // create missing ancestors
}

// TransferOptions configures a copy or move.
type TransferOptions struct {
	Source      string
	Destination string
	// NoOverwrite sends Overwrite: F so an existing destination fails with
	// 412 instead of being replaced.
	NoOverwrite bool
	// Shallow sends Depth: 0 for directory copies (marker only).
	Shallow bool
}

// ActionResult is the outcome of mkdir, copy or move.
type ActionResult struct {
	Action      string `json:"action"`
	Path        string `json:"path"`
	Destination string `json:"destination,omitempty"`
	// Created is false when an existing destination was replaced.
	Created bool `json:"created"`
}

// PresignOptions configures a capability URL.
type PresignOptions struct {
	Path        string
	Scope       string
	Expires     time.Duration
	FullControl bool
}

// TotalSize calculates the total size of all items in bytes.
func (r *ListResult) TotalSize() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.Size
	}
	return total
}

// multistatus mirrors a PROPFIND response body.
type multistatus struct {
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href     string      `xml:"DAV: href"`
	Propstat davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Prop davProp `xml:"DAV: prop"`
}

type davProp struct {
	DisplayName      string          `xml:"DAV: displayname"`
	GetContentLength int64           `xml:"DAV: getcontentlength"`
	GetContentType   string          `xml:"DAV: getcontenttype"`
	GetETag          string          `xml:"DAV: getetag"`
	GetLastModified  string          `xml:"DAV: getlastmodified"`
	ResourceType     davResourceType `xml:"DAV: resourcetype"`
	Thumbnail        string          `xml:"https://stowdrive.dev/ns thumbnail"`
}

type davResourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// multipartUpload mirrors the server's create-upload response.
type multipartUpload struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
}

type uploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type completeRequest struct {
	Parts []uploadedPart `json:"parts"`
}

type completeResponse struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
}
