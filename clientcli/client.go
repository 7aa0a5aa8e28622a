package clientcli

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sagarc03/stowdrive"
)

const (
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 5 * time.Minute

	// DefaultPresignExpiry is the default capability lifetime.
	DefaultPresignExpiry = 15 * time.Minute

	// DefaultPartSize is the multipart part size; files up to this size are
	// sent with a single PUT.
	DefaultPartSize = 8 << 20

	// DefaultUploadConcurrency bounds parallel part uploads.
	DefaultUploadConcurrency = 2

	requestIDHeader = "X-Request-Id"
)

// Client performs operations against a stowdrive server.
type Client struct {
	config      *Config
	endpoint    *url.URL
	basePath    string
	httpClient  *http.Client
	partSize    int64
	concurrency int
	retryDelay  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithPartSize sets the multipart part size. Files larger than size are
// uploaded in parts.
func WithPartSize(size int64) Option {
	return func(c *Client) {
		if size > 0 {
			c.partSize = size
		}
	}
}

// WithUploadConcurrency bounds parallel part uploads.
func WithUploadConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRetryDelay sets the pause before retrying a 429 or 503 response.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// New creates a new Client with the given config and options.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}

	// Apply defaults
	cfg = cfg.WithDefaults()

	endpoint, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: scheme must be http or https", cfg.Endpoint)
	}

	c := &Client{
		config:      cfg,
		endpoint:    endpoint,
		basePath:    endpoint.Path,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		partSize:    DefaultPartSize,
		concurrency: DefaultUploadConcurrency,
		retryDelay:  time.Second,
	}

	// Apply options
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// keyURL returns the absolute URL of key. Directories get a trailing slash.
func (c *Client) keyURL(key string, dir bool) string {
	u := c.endpoint.String() + "/" + stowdrive.EscapeKey(key)
	if dir && key != "" {
		u += "/"
	}
	return u
}

// bodyFunc returns a fresh request body and its length on every call so a
// request can be retried.
type bodyFunc func() (io.Reader, int64)

func bytesBody(b []byte) bodyFunc {
	return func() (io.Reader, int64) {
		return bytes.NewReader(b), int64(len(b))
	}
}

func sectionBody(r io.ReaderAt, off, n int64) bodyFunc {
	return func() (io.Reader, int64) {
		return io.NewSectionReader(r, off, n), n
	}
}

// do sends a request with the direct credential and a request id. A 429 or
// 503 answer is retried once after the retry delay.
func (c *Client) do(ctx context.Context, method, rawURL string, header http.Header, body bodyFunc) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		var reader io.Reader = http.NoBody
		var size int64
		if body != nil {
			reader, size = body()
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.ContentLength = size
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if c.config.Username != "" || c.config.Password != "" {
			req.SetBasicAuth(c.config.Username, c.config.Password)
		}
		req.Header.Set(requestIDHeader, uuid.NewString())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}

		if attempt > 0 || (resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable) {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

// readError consumes an unsuccessful response.
func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return parseServerError(resp.StatusCode, body)
}

func decodeJSON(resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// Upload uploads file(s) to the server.
// For recursive uploads, walks directory and preserves relative paths.
func (c *Client) Upload(ctx context.Context, opts UploadOptions) ([]UploadResult, error) {
	if opts.LocalPath == "" {
		return nil, fmt.Errorf("upload: %w", ErrEmptyPath)
	}
	if opts.Recursive {
		return c.uploadRecursive(ctx, opts)
	}
	result, err := c.uploadSingle(ctx, opts.LocalPath, opts.RemotePath, opts.ContentType)
	if err != nil {
		return nil, err
	}
	return []UploadResult{result}, nil
}

// uploadRecursive walks a directory and uploads all files. Remote parent
// directories are created first since the server refuses orphans.
func (c *Client) uploadRecursive(ctx context.Context, opts UploadOptions) ([]UploadResult, error) {
	info, err := os.Stat(opts.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("stat local path: %w", err)
	}

	if !info.IsDir() {
		result, uploadErr := c.uploadSingle(ctx, opts.LocalPath, opts.RemotePath, opts.ContentType)
		if uploadErr != nil {
			return nil, uploadErr
		}
		return []UploadResult{result}, nil
	}

	var results []UploadResult
	baseDir := opts.LocalPath
	remotePrefix := stowdrive.NormalizeKey(opts.RemotePath)

	if remotePrefix != "" {
		if _, err := c.Mkdir(ctx, MkdirOptions{Path: remotePrefix, Parents: true}); err != nil {
			return nil, err
		}
	}

	walkErr := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, fileErr error) error {
		if fileErr != nil {
			return fileErr
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relPath, relErr := filepath.Rel(baseDir, path)
		if relErr != nil {
			results = append(results, UploadResult{
				LocalPath: path,
				Err:       fmt.Errorf("calculate relative path: %w", relErr),
			})
			return nil
		}
		if relPath == "." {
			return nil
		}

		remotePath := joinKey(remotePrefix, filepath.ToSlash(relPath))

		if d.IsDir() {
			if _, mkErr := c.Mkdir(ctx, MkdirOptions{Path: remotePath, Parents: true}); mkErr != nil {
				results = append(results, UploadResult{LocalPath: path, RemotePath: remotePath, Err: mkErr})
				return fs.SkipDir
			}
			return nil
		}

		result, uploadErr := c.uploadSingle(ctx, path, remotePath, "")
		if uploadErr != nil {
			result = UploadResult{
				LocalPath:  path,
				RemotePath: remotePath,
				Err:        uploadErr,
			}
		}
		results = append(results, result)
		return nil
	})

	if walkErr != nil {
		return results, fmt.Errorf("walk directory: %w", walkErr)
	}

	return results, nil
}

func joinKey(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// uploadSingle uploads one file, in parts when it exceeds the part size.
func (c *Client) uploadSingle(ctx context.Context, localPath, remotePath, contentType string) (UploadResult, error) {
	file, err := os.Open(localPath) //#nosec G304 -- localPath is user-provided input
	if err != nil {
		return UploadResult{}, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return UploadResult{}, fmt.Errorf("stat file: %w", err)
	}

	if contentType == "" {
		contentType = detectContentType(localPath)
	}

	key := stowdrive.NormalizeKey(remotePath)
	if key == "" {
		key = filepath.Base(localPath)
	}

	result := UploadResult{
		LocalPath:   localPath,
		RemotePath:  key,
		ContentType: contentType,
		Size:        info.Size(),
	}

	header := http.Header{}
	header.Set("Content-Type", contentType)

	if info.Size() > c.partSize {
		etag, parts, err := c.uploadMultipart(ctx, key, header, file, info.Size())
		if err != nil {
			return UploadResult{}, err
		}
		result.ETag = etag
		result.Parts = parts
		return result, nil
	}

	resp, err := c.do(ctx, http.MethodPut, c.keyURL(key, false), header, sectionBody(file, 0, info.Size()))
	if err != nil {
		return UploadResult{}, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return UploadResult{}, readError(resp)
	}
	_ = resp.Body.Close()

	result.ETag = strings.Trim(resp.Header.Get("ETag"), `"`)
	return result, nil
}

// uploadMultipart sends file as a multipart upload. Any failure, including
// cancellation, aborts the upload on the server.
func (c *Client) uploadMultipart(ctx context.Context, key string, header http.Header, file io.ReaderAt, size int64) (string, int, error) {
	resp, err := c.do(ctx, http.MethodPost, c.keyURL(key, false)+"?uploads", header, nil)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, readError(resp)
	}

	var upload multipartUpload
	if err := decodeJSON(resp, &upload); err != nil {
		return "", 0, err
	}

	uploadURL := c.keyURL(key, false) + "?uploadId=" + url.QueryEscape(upload.UploadID)

	count := int((size + c.partSize - 1) / c.partSize)
	parts := make([]uploadedPart, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i := range count {
		offset := int64(i) * c.partSize
		length := min(c.partSize, size-offset)

		g.Go(func() error {
			partURL := uploadURL + "&partNumber=" + strconv.Itoa(i+1)
			resp, err := c.do(gctx, http.MethodPut, partURL, nil, sectionBody(file, offset, length))
			if err != nil {
				return fmt.Errorf("upload part %d: %w", i+1, err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("upload part %d: %w", i+1, readError(resp))
			}

			var part uploadedPart
			if err := decodeJSON(resp, &part); err != nil {
				return fmt.Errorf("upload part %d: %w", i+1, err)
			}
			parts[i] = part
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.abortUpload(ctx, uploadURL)
		return "", 0, err
	}

	body, err := json.Marshal(completeRequest{Parts: parts})
	if err != nil {
		c.abortUpload(ctx, uploadURL)
		return "", 0, fmt.Errorf("marshal parts: %w", err)
	}

	completeHeader := http.Header{}
	completeHeader.Set("Content-Type", "application/json")

	resp, err = c.do(ctx, http.MethodPost, uploadURL, completeHeader, bytesBody(body))
	if err != nil {
		c.abortUpload(ctx, uploadURL)
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		err = readError(resp)
		c.abortUpload(ctx, uploadURL)
		return "", 0, fmt.Errorf("complete upload: %w", err)
	}

	var complete completeResponse
	if err := decodeJSON(resp, &complete); err != nil {
		return "", 0, err
	}

	return complete.ETag, count, nil
}

// abortUpload runs even when ctx is already cancelled.
func (c *Client) abortUpload(ctx context.Context, uploadURL string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodDelete, uploadURL, nil, nil)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// Download downloads a file from the server.
// If opts.LocalPath is "-", the content is returned via the io.ReadCloser and must be closed by the caller.
// Otherwise, the content is written to the file and the io.ReadCloser is nil.
func (c *Client) Download(ctx context.Context, opts DownloadOptions) (*DownloadResult, io.ReadCloser, error) {
	key := stowdrive.NormalizeKey(opts.RemotePath)
	if key == "" {
		return nil, nil, fmt.Errorf("download: %w", ErrEmptyPath)
	}

	resp, err := c.do(ctx, http.MethodGet, c.keyURL(key, false), nil, nil)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, readError(resp)
	}

	result := &DownloadResult{
		RemotePath:  key,
		ETag:        strings.Trim(resp.Header.Get("ETag"), `"`),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}

	// If stdout requested, return the body for the caller to handle
	if opts.LocalPath == "-" {
		result.LocalPath = "-"
		return result, resp.Body, nil
	}

	localPath := opts.LocalPath
	if localPath == "" {
		localPath = stowdrive.BaseName(key)
	}
	result.LocalPath = localPath

	dir := filepath.Dir(localPath)
	if dir != "" && dir != "." {
		if mkdirErr := os.MkdirAll(dir, 0o750); mkdirErr != nil {
			_ = resp.Body.Close()
			return nil, nil, fmt.Errorf("create directory: %w", mkdirErr)
		}
	}

	file, createErr := os.Create(localPath) //#nosec G304 -- localPath is user-provided input
	if createErr != nil {
		_ = resp.Body.Close()
		return nil, nil, fmt.Errorf("create file: %w", createErr)
	}

	written, copyErr := io.Copy(file, resp.Body)
	_ = resp.Body.Close()
	if copyErr != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("write file: %w", copyErr)
	}

	if closeErr := file.Close(); closeErr != nil {
		return nil, nil, fmt.Errorf("close file: %w", closeErr)
	}

	result.Size = written
	return result, nil, nil
}

// Delete deletes one or more paths. Directories are removed recursively.
// Continues on error, collecting results for all paths.
func (c *Client) Delete(ctx context.Context, opts DeleteOptions) ([]DeleteResult, error) {
	if len(opts.Paths) == 0 {
		return nil, ErrNoPaths
	}

	results := make([]DeleteResult, 0, len(opts.Paths))

	for _, path := range opts.Paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		results = append(results, c.deleteSingle(ctx, path))
	}

	return results, nil
}

func (c *Client) deleteSingle(ctx context.Context, path string) DeleteResult {
	resp, err := c.do(ctx, http.MethodDelete, c.keyURL(stowdrive.NormalizeKey(path), false), nil, nil)
	if err != nil {
		return DeleteResult{Path: path, Err: err}
	}

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		_ = resp.Body.Close()
		return DeleteResult{Path: path, Deleted: true}
	}

	return DeleteResult{Path: path, Err: readError(resp)}
}

// HasDeleteErrors returns true if any delete operation failed.
func HasDeleteErrors(results []DeleteResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// List runs a PROPFIND on opts.Path. A directory yields its children (all
// descendants when Recursive); a file yields itself.
func (c *Client) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	key := stowdrive.NormalizeKey(opts.Path)

	depth := "1"
	if opts.Recursive {
		depth = "infinity"
	}

	header := http.Header{}
	header.Set("Depth", depth)

	resp, err := c.do(ctx, "PROPFIND", c.keyURL(key, true), header, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, readError(resp)
	}
	defer func() { _ = resp.Body.Close() }()

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("parse multistatus: %w", err)
	}

	result := &ListResult{Path: key, Items: []ObjectInfo{}}
	for i, r := range ms.Responses {
		info, err := c.objectInfo(r)
		if err != nil {
			return nil, err
		}
		if i == 0 && info.IsDir && info.Path == key {
			continue
		}
		result.Items = append(result.Items, info)
	}

	return result, nil
}

func (c *Client) objectInfo(r davResponse) (ObjectInfo, error) {
	href := r.Href
	if u, err := url.Parse(href); err == nil && u.IsAbs() {
		href = u.EscapedPath()
	}

	escaped := strings.TrimPrefix(href, c.basePath)
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("parse href %q: %w", r.Href, err)
	}

	prop := r.Propstat.Prop
	info := ObjectInfo{
		Path:        stowdrive.NormalizeKey(path),
		IsDir:       prop.ResourceType.Collection != nil,
		ContentType: prop.GetContentType,
		ETag:        strings.Trim(prop.GetETag, `"`),
		Size:        prop.GetContentLength,
		Thumbnail:   prop.Thumbnail,
	}
	if prop.GetLastModified != "" {
		if t, err := http.ParseTime(prop.GetLastModified); err == nil {
			info.UpdatedAt = t
		}
	}

	return info, nil
}

// Mkdir creates a directory. With Parents, missing ancestors are created
// and an existing directory is not an error.
func (c *Client) Mkdir(ctx context.Context, opts MkdirOptions) (ActionResult, error) {
	key := stowdrive.NormalizeKey(opts.Path)
	if key == "" {
		return ActionResult{}, fmt.Errorf("mkdir: %w", ErrEmptyPath)
	}

	result := ActionResult{Action: "mkdir", Path: key}

	var dirs []string
	if opts.Parents {
		segments := strings.Split(key, "/")
		for i := range segments {
			dirs = append(dirs, strings.Join(segments[:i+1], "/"))
		}
	} else {
		dirs = []string{key}
	}

	for _, dir := range dirs {
		resp, err := c.do(ctx, "MKCOL", c.keyURL(dir, true), nil, nil)
		if err != nil {
			return ActionResult{}, err
		}

		switch {
		case resp.StatusCode == http.StatusCreated:
			_ = resp.Body.Close()
			if dir == key {
				result.Created = true
			}
		case resp.StatusCode == http.StatusMethodNotAllowed && opts.Parents:
			// already exists
			_ = resp.Body.Close()
		default:
			return ActionResult{}, fmt.Errorf("mkdir %s: %w", dir, readError(resp))
		}
	}

	return result, nil
}

// Copy copies a file or directory on the server.
func (c *Client) Copy(ctx context.Context, opts TransferOptions) (ActionResult, error) {
	return c.transfer(ctx, "COPY", opts)
}

// Move moves a file or directory on the server. The server copies then
// deletes, so a failed move may leave both.
func (c *Client) Move(ctx context.Context, opts TransferOptions) (ActionResult, error) {
	return c.transfer(ctx, "MOVE", opts)
}

func (c *Client) transfer(ctx context.Context, method string, opts TransferOptions) (ActionResult, error) {
	src := stowdrive.NormalizeKey(opts.Source)
	dst := stowdrive.NormalizeKey(opts.Destination)
	if src == "" || dst == "" {
		return ActionResult{}, fmt.Errorf("%s: %w", strings.ToLower(method), ErrEmptyPath)
	}

	header := http.Header{}
	header.Set("Destination", c.keyURL(dst, false))
	if opts.NoOverwrite {
		header.Set("Overwrite", "F")
	}
	if opts.Shallow {
		header.Set("Depth", "0")
	}

	resp, err := c.do(ctx, method, c.keyURL(src, false), header, nil)
	if err != nil {
		return ActionResult{}, err
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent:
		_ = resp.Body.Close()
	default:
		return ActionResult{}, readError(resp)
	}

	return ActionResult{
		Action:      strings.ToLower(method),
		Path:        src,
		Destination: dst,
		Created:     resp.StatusCode == http.StatusCreated,
	}, nil
}

// Presign mints a capability URL locally with the configured secret; it
// makes no request.
func (c *Client) Presign(opts PresignOptions) (string, error) {
	if c.config.Secret == "" {
		return "", ErrSecretRequired
	}

	key := stowdrive.NormalizeKey(opts.Path)

	scope := stowdrive.NormalizeKey(opts.Scope)
	if opts.Scope == "" {
		scope = key
	}
	if !stowdrive.IsWithin(key, scope) {
		return "", fmt.Errorf("presign: %q is outside scope %q", key, scope)
	}

	expires := opts.Expires
	if expires == 0 {
		expires = DefaultPresignExpiry
	}

	signer := stowdrive.NewSigner(stowdrive.SignerConfig{
		BasePath: c.basePath,
		Secret:   c.config.Secret,
	})

	link, err := signer.SignKey(key, stowdrive.CapabilityOptions{
		Scope:       scope,
		TTL:         expires,
		FullControl: opts.FullControl,
	})
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}

	return c.endpoint.Scheme + "://" + c.endpoint.Host + link, nil
}

// NormalizeLocalToRemotePath converts a local path to a clean remote path.
// It handles:
//   - Leading "./" is stripped (./foo/bar.txt -> foo/bar.txt)
//   - Leading "/" is stripped (/abs/path/file.txt -> abs/path/file.txt)
//   - Parent traversal is resolved (../sibling/file.txt -> sibling/file.txt)
//   - Backslashes are converted to forward slashes (Windows)
func NormalizeLocalToRemotePath(localPath string) string {
	path := filepath.ToSlash(filepath.Clean(filepath.ToSlash(localPath)))

	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")

	for strings.HasPrefix(path, "../") {
		path = strings.TrimPrefix(path, "../")
	}

	if path == ".." || path == "." {
		return ""
	}

	return path
}

// detectContentType guesses from the extension, then from the content.
func detectContentType(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		if mimeType := mime.TypeByExtension(ext); mimeType != "" {
			return mimeType
		}
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
