package stowdrive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultCopyConcurrency   = 5
	defaultDeleteConcurrency = 4
	deleteBatchSize          = 100
	maxPartNumber            = 10000
	sniffLen                 = 3072
)

// DriveConfig holds the dependencies and limits of a DriveService.
type DriveConfig struct {
	Store ObjectStore
	// PageSize bounds each store listing (default: 1000)
	PageSize int
	// CopyConcurrency bounds per-object copies of a recursive COPY (default: 5)
	CopyConcurrency int
	// DeleteConcurrency bounds in-flight delete batches of a recursive DELETE (default: 4)
	DeleteConcurrency int
	// DeleteRate limits delete batches per second across all requests. Zero disables the limit.
	DeleteRate float64
	// HTTPClient fetches remote sources for PUT (default: http.DefaultClient)
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DriveService implements drive semantics (directories, conditional writes,
// recursive copy and delete) over an ObjectStore. It keeps no per-request
// state and is safe for concurrent use.
type DriveService struct {
	store             ObjectStore
	paths             *PathModel
	copyConcurrency   int
	deleteConcurrency int
	deleteLimiter     *rate.Limiter
	httpClient        *http.Client
	logger            *slog.Logger
}

func NewDriveService(cfg DriveConfig) (*DriveService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("new drive service: %w: store is required", ErrInvalidInput)
	}

	copyConcurrency := cfg.CopyConcurrency
	if copyConcurrency <= 0 {
		copyConcurrency = defaultCopyConcurrency
	}

	deleteConcurrency := cfg.DeleteConcurrency
	if deleteConcurrency <= 0 {
		deleteConcurrency = defaultDeleteConcurrency
	}

	limit := rate.Inf
	if cfg.DeleteRate > 0 {
		limit = rate.Limit(cfg.DeleteRate)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DriveService{
		store:             cfg.Store,
		paths:             NewPathModel(cfg.Store, cfg.PageSize),
		copyConcurrency:   copyConcurrency,
		deleteConcurrency: deleteConcurrency,
		deleteLimiter:     rate.NewLimiter(limit, deleteConcurrency),
		httpClient:        httpClient,
		logger:            logger,
	}, nil
}

func (s *DriveService) Paths() *PathModel {
	return s.paths
}

func (s *DriveService) Store() ObjectStore {
	return s.store
}

func validKey(op, key string) error {
	if !IsValidKey(key) {
		return fmt.Errorf("%s %q: %w: invalid key", op, key, ErrInvalidInput)
	}
	return nil
}

func noChildren(func(StoredObject, error) bool) {}

// Propfind returns the target and, for directories listed at DepthOne or
// DepthInfinity, an iterator over its children. Other depths list nothing.
//
// Returns ErrNotFound if the target does not exist.
func (s *DriveService) Propfind(ctx context.Context, key string, depth Depth) (StoredObject, iter.Seq2[StoredObject, error], error) {
	if err := ctx.Err(); err != nil {
		return StoredObject{}, nil, fmt.Errorf("propfind: %w", err)
	}

	if err := validKey("propfind", key); err != nil {
		return StoredObject{}, nil, err
	}

	obj, err := s.paths.Stat(ctx, key)
	if err != nil {
		return StoredObject{}, nil, fmt.Errorf("propfind: %w", err)
	}

	if !obj.IsDir() || (depth != DepthOne && depth != DepthInfinity) {
		return obj, noChildren, nil
	}

	return obj, s.paths.Children(ctx, key, depth), nil
}

// Mkcol creates a directory marker.
//
// Error types returned:
//   - ErrMethodNotAllowed: the target (or root) already exists
//   - ErrConflict: the parent directory does not exist
func (s *DriveService) Mkcol(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mkcol: %w", err)
	}

	if err := validKey("mkcol", key); err != nil {
		return err
	}

	exists, err := s.paths.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("mkcol %s: %w", key, err)
	}
	if exists {
		return fmt.Errorf("mkcol %s: %w: already exists", key, ErrMethodNotAllowed)
	}

	if err := s.requireParent(ctx, "mkcol", key); err != nil {
		return err
	}

	_, err = s.store.Put(ctx, key, strings.NewReader(""), PutOptions{
		HTTPMetadata: HTTPMetadata{ContentType: DirectoryContentType},
		OnlyIf:       Conditions{IfNoneMatch: "*"},
	})
	if errors.Is(err, ErrPreconditionFailed) {
		return fmt.Errorf("mkcol %s: %w: created concurrently", key, ErrMethodNotAllowed)
	}
	if err != nil {
		return fmt.Errorf("mkcol %s: %w", key, err)
	}

	return nil
}

func (s *DriveService) requireParent(ctx context.Context, op, key string) error {
	ok, err := s.paths.ParentExists(ctx, key)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	if !ok {
		return fmt.Errorf("%s %s: %w: parent directory does not exist", op, key, ErrConflict)
	}
	return nil
}

// PutInput describes a single-request upload.
type PutInput struct {
	Key          string
	Body         io.Reader
	HTTPMetadata HTTPMetadata
	// Thumbnail is the sha256 digest of an already stored thumbnail.
	Thumbnail string
	// SourceURL, when set, replaces Body with the content fetched from it.
	SourceURL string
	OnlyIf    Conditions
}

// Put stores an object.
//
// The parent directory must exist unless the key is private. Preconditions
// are evaluated by the store against the current object. When an existing
// object is replaced and its thumbnail digest differs from the new one, the
// old thumbnail is deleted on a best-effort basis.
//
// Error types returned:
//   - ErrInvalidInput: invalid key, thumbnail digest or source URL
//   - ErrConflict: parent directory missing
//   - ErrMethodNotAllowed: the key names a directory
//   - ErrPreconditionFailed: a precondition did not hold
//   - ErrUpstream: the source URL could not be fetched
func (s *DriveService) Put(ctx context.Context, in PutInput) (StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return StoredObject{}, fmt.Errorf("put: %w", err)
	}

	if in.Key == "" {
		return StoredObject{}, fmt.Errorf("put: %w: key cannot be empty", ErrInvalidInput)
	}
	if err := validKey("put", in.Key); err != nil {
		return StoredObject{}, err
	}
	if in.Thumbnail != "" && !IsDigest(in.Thumbnail) {
		return StoredObject{}, fmt.Errorf("put %s: %w: malformed thumbnail digest", in.Key, ErrInvalidInput)
	}

	if !IsPrivateKey(in.Key) {
		if err := s.requireParent(ctx, "put", in.Key); err != nil {
			return StoredObject{}, err
		}
	}

	prev, err := s.previous(ctx, in.Key)
	if err != nil {
		return StoredObject{}, fmt.Errorf("put: %w", err)
	}
	if prev != nil && prev.IsDir() {
		return StoredObject{}, fmt.Errorf("put %s: %w: target is a directory", in.Key, ErrMethodNotAllowed)
	}

	body := in.Body
	md := in.HTTPMetadata

	if in.SourceURL != "" {
		rc, contentType, fetchErr := s.fetchSource(ctx, in.SourceURL)
		if fetchErr != nil {
			return StoredObject{}, fmt.Errorf("put %s: %w", in.Key, fetchErr)
		}
		defer rc.Close()
		body = rc
		if md.ContentType == "" {
			md.ContentType = contentType
		}
	}

	if body == nil {
		body = strings.NewReader("")
	}

	if md.ContentType == "" {
		md.ContentType, body = sniffContentType(body)
	}

	var custom map[string]string
	if in.Thumbnail != "" {
		custom = map[string]string{ThumbnailMetadataKey: in.Thumbnail}
	}

	obj, err := s.store.Put(ctx, in.Key, body, PutOptions{
		HTTPMetadata:   md,
		CustomMetadata: custom,
		OnlyIf:         in.OnlyIf,
	})
	if err != nil {
		return StoredObject{}, fmt.Errorf("put %s: %w", in.Key, err)
	}

	s.dropStaleThumbnail(ctx, prev, in.Thumbnail)

	return obj, nil
}

func (s *DriveService) previous(ctx context.Context, key string) (*StoredObject, error) {
	obj, err := s.store.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", key, err)
	}
	return &obj, nil
}

// dropStaleThumbnail deletes the thumbnail of a replaced object. Thumbnails
// are not reference counted, so another object sharing the digest loses its
// preview. Failures are logged and never fail the write.
func (s *DriveService) dropStaleThumbnail(ctx context.Context, prev *StoredObject, digest string) {
	if prev == nil || prev.Thumbnail() == "" || prev.Thumbnail() == digest {
		return
	}

	key := ThumbnailKey(prev.Thumbnail())
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("drop stale thumbnail", "key", prev.Key, "thumbnail", key, "error", err)
	}
}

func (s *DriveService) fetchSource(ctx context.Context, source string) (io.ReadCloser, string, error) {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", fmt.Errorf("fetch source: %w: unsupported url %q", ErrInvalidInput, source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch source: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch source: %w: %w", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("fetch source: %w: status %d", ErrUpstream, resp.StatusCode)
	}

	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// sniffContentType detects the content type from the first bytes of r and
// returns a reader replaying them.
func sniffContentType(r io.Reader) (string, io.Reader) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, _ := br.Peek(sniffLen)
	return mimetype.Detect(head).String(), br
}

// CreateUploadInput describes a multipart upload.
type CreateUploadInput struct {
	Key          string
	HTTPMetadata HTTPMetadata
	Thumbnail    string
}

// CreateUpload starts a multipart upload. The parent directory rule of Put
// applies.
func (s *DriveService) CreateUpload(ctx context.Context, in CreateUploadInput) (MultipartUpload, error) {
	if err := ctx.Err(); err != nil {
		return MultipartUpload{}, fmt.Errorf("create upload: %w", err)
	}

	if in.Key == "" {
		return MultipartUpload{}, fmt.Errorf("create upload: %w: key cannot be empty", ErrInvalidInput)
	}
	if err := validKey("create upload", in.Key); err != nil {
		return MultipartUpload{}, err
	}
	if in.Thumbnail != "" && !IsDigest(in.Thumbnail) {
		return MultipartUpload{}, fmt.Errorf("create upload %s: %w: malformed thumbnail digest", in.Key, ErrInvalidInput)
	}

	if !IsPrivateKey(in.Key) {
		if err := s.requireParent(ctx, "create upload", in.Key); err != nil {
			return MultipartUpload{}, err
		}
	}

	md := in.HTTPMetadata
	if md.ContentType == "" {
		md.ContentType = "application/octet-stream"
	}

	var custom map[string]string
	if in.Thumbnail != "" {
		custom = map[string]string{ThumbnailMetadataKey: in.Thumbnail}
	}

	upload, err := s.store.CreateMultipartUpload(ctx, in.Key, PutOptions{HTTPMetadata: md, CustomMetadata: custom})
	if err != nil {
		return MultipartUpload{}, fmt.Errorf("create upload %s: %w", in.Key, err)
	}

	return upload, nil
}

func (s *DriveService) UploadPart(ctx context.Context, upload MultipartUpload, partNumber int, body io.Reader) (UploadedPart, error) {
	if err := ctx.Err(); err != nil {
		return UploadedPart{}, fmt.Errorf("upload part: %w", err)
	}

	if upload.UploadID == "" {
		return UploadedPart{}, fmt.Errorf("upload part: %w: upload id cannot be empty", ErrInvalidInput)
	}
	if partNumber < 1 || partNumber > maxPartNumber {
		return UploadedPart{}, fmt.Errorf("upload part: %w: part number %d out of range", ErrInvalidInput, partNumber)
	}

	part, err := s.store.UploadPart(ctx, upload, partNumber, body)
	if err != nil {
		return UploadedPart{}, fmt.Errorf("upload part %d of %s: %w", partNumber, upload.Key, err)
	}

	return part, nil
}

// CompleteUpload assembles the uploaded parts. Like Put, it drops the
// thumbnail of the object it replaces.
func (s *DriveService) CompleteUpload(ctx context.Context, upload MultipartUpload, parts []UploadedPart) (StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return StoredObject{}, fmt.Errorf("complete upload: %w", err)
	}

	if len(parts) == 0 {
		return StoredObject{}, fmt.Errorf("complete upload %s: %w: no parts", upload.Key, ErrInvalidInput)
	}

	prev, err := s.previous(ctx, upload.Key)
	if err != nil {
		return StoredObject{}, fmt.Errorf("complete upload: %w", err)
	}

	sorted := slices.Clone(parts)
	slices.SortFunc(sorted, func(a, b UploadedPart) int { return a.PartNumber - b.PartNumber })

	obj, err := s.store.CompleteMultipartUpload(ctx, upload, sorted)
	if err != nil {
		return StoredObject{}, fmt.Errorf("complete upload %s: %w", upload.Key, err)
	}

	s.dropStaleThumbnail(ctx, prev, obj.Thumbnail())

	return obj, nil
}

func (s *DriveService) AbortUpload(ctx context.Context, upload MultipartUpload) error {
	if err := s.store.AbortMultipartUpload(ctx, upload); err != nil {
		return fmt.Errorf("abort upload %s: %w", upload.Key, err)
	}
	return nil
}

// Get opens an object for reading. The root directory yields an empty body.
func (s *DriveService) Get(ctx context.Context, key string, opts GetOptions) (*ObjectBody, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}

	if err := validKey("get", key); err != nil {
		return nil, err
	}

	if key == "" {
		root := RootObject()
		if err := opts.OnlyIf.Evaluate(&root); err != nil {
			return nil, fmt.Errorf("get: %w", err)
		}
		return &ObjectBody{StoredObject: root, Body: io.NopCloser(strings.NewReader(""))}, nil
	}

	body, err := s.store.Get(ctx, key, opts)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	return body, nil
}

// Head returns the object at key after evaluating the preconditions.
func (s *DriveService) Head(ctx context.Context, key string, onlyIf Conditions) (StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return StoredObject{}, fmt.Errorf("head: %w", err)
	}

	if err := validKey("head", key); err != nil {
		return StoredObject{}, err
	}

	obj, err := s.paths.Stat(ctx, key)
	if err != nil {
		return StoredObject{}, fmt.Errorf("head: %w", err)
	}

	if err := onlyIf.Evaluate(&obj); err != nil {
		return StoredObject{}, fmt.Errorf("head %s: %w", key, err)
	}

	return obj, nil
}

// CopyInput describes a COPY or MOVE.
type CopyInput struct {
	Source      string
	Destination string
	// Overwrite permits replacing an existing destination.
	Overwrite bool
	// Depth applies to directory sources: DepthZero copies the marker only,
	// DepthInfinity copies the whole tree.
	Depth Depth
}

// Copy copies an object or directory tree. It reports whether the
// destination was newly created. An existing destination is overwritten in
// place; objects present only at the destination are kept.
//
// Error types returned:
//   - ErrInvalidInput: destination is the root, the source itself or inside
//     the source, or Depth is DepthOne for a directory
//   - ErrNotFound: source missing
//   - ErrPreconditionFailed: destination exists and Overwrite is false
//   - ErrConflict: destination parent missing
func (s *DriveService) Copy(ctx context.Context, in CopyInput) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("copy: %w", err)
	}

	if err := validKey("copy", in.Source); err != nil {
		return false, err
	}
	if err := validKey("copy", in.Destination); err != nil {
		return false, err
	}

	if in.Destination == "" {
		return false, fmt.Errorf("copy: %w: destination cannot be the root", ErrInvalidInput)
	}
	if IsWithin(in.Destination, in.Source) {
		return false, fmt.Errorf("copy %s to %s: %w: destination inside source", in.Source, in.Destination, ErrInvalidInput)
	}

	src, err := s.paths.Stat(ctx, in.Source)
	if err != nil {
		return false, fmt.Errorf("copy: %w", err)
	}

	exists, err := s.paths.Exists(ctx, in.Destination)
	if err != nil {
		return false, fmt.Errorf("copy: %w", err)
	}
	if exists && !in.Overwrite {
		return false, fmt.Errorf("copy %s to %s: %w: destination exists", in.Source, in.Destination, ErrPreconditionFailed)
	}

	if err := s.requireParent(ctx, "copy", in.Destination); err != nil {
		return false, err
	}

	if !src.IsDir() {
		if err := s.copyObject(ctx, in.Source, in.Destination); err != nil {
			return false, fmt.Errorf("copy: %w", err)
		}
		return !exists, nil
	}

	switch in.Depth {
	case DepthZero:
		err = s.copyMarker(ctx, src, in.Destination)
	case DepthInfinity:
		err = s.copyTree(ctx, src, in.Destination)
	default:
		err = fmt.Errorf("%w: depth %s not allowed for directories", ErrInvalidInput, in.Depth)
	}
	if err != nil {
		return false, fmt.Errorf("copy %s to %s: %w", in.Source, in.Destination, err)
	}

	return !exists, nil
}

func (s *DriveService) copyMarker(ctx context.Context, src StoredObject, dst string) error {
	_, err := s.store.Put(ctx, dst, strings.NewReader(""), PutOptions{
		HTTPMetadata:   HTTPMetadata{ContentType: DirectoryContentType},
		CustomMetadata: src.CloneCustomMetadata(),
	})
	return err
}

func (s *DriveService) copyTree(ctx context.Context, src StoredObject, dst string) error {
	if err := s.copyMarker(ctx, src, dst); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.copyConcurrency)

	for obj, err := range s.paths.Children(gctx, src.Key, DepthInfinity) {
		if err != nil {
			g.Go(func() error { return err })
			break
		}

		target := ChildPrefix(dst) + strings.TrimPrefix(obj.Key, ChildPrefix(src.Key))
		if obj.IsDir() && obj.Size == 0 {
			g.Go(func() error { return s.copyMarker(gctx, obj, target) })
			continue
		}

		g.Go(func() error { return s.copyObject(gctx, obj.Key, target) })
	}

	return g.Wait()
}

func (s *DriveService) copyObject(ctx context.Context, src, dst string) error {
	body, err := s.store.Get(ctx, src, GetOptions{})
	if err != nil {
		return fmt.Errorf("copy object %s: %w", src, err)
	}
	defer body.Body.Close()

	_, err = s.store.Put(ctx, dst, body.Body, PutOptions{
		HTTPMetadata:   body.HTTPMetadata,
		CustomMetadata: body.CloneCustomMetadata(),
	})
	if err != nil {
		return fmt.Errorf("copy object %s to %s: %w", src, dst, err)
	}

	return nil
}

// Move copies the source and then deletes it. The two steps are not atomic:
// a failed delete leaves both copies in place. A directory always moves
// with its whole tree, so any depth but DepthInfinity is ErrInvalidInput.
func (s *DriveService) Move(ctx context.Context, in CopyInput) (bool, error) {
	if in.Depth != DepthInfinity {
		src, err := s.paths.Stat(ctx, in.Source)
		if err != nil {
			return false, fmt.Errorf("move: %w", err)
		}
		if src.IsDir() {
			return false, fmt.Errorf("move %s: %w: depth %s on a directory", in.Source, ErrInvalidInput, in.Depth)
		}
	}

	created, err := s.Copy(ctx, in)
	if err != nil {
		return false, fmt.Errorf("move: %w", err)
	}

	if err := s.Delete(ctx, in.Source); err != nil {
		return false, fmt.Errorf("move: delete source: %w", err)
	}

	return created, nil
}

// Delete removes an object. Directories (and the root) are removed
// recursively: every descendant first, then the marker. The fan-out is
// bounded by DeleteConcurrency and DeleteRate.
func (s *DriveService) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if err := validKey("delete", key); err != nil {
		return err
	}

	obj, err := s.paths.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if !obj.IsDir() {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	}

	if err := s.deleteTree(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	if key == "" {
		return nil
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

func (s *DriveService) deleteTree(ctx context.Context, dir string) error {
	cursor := ""
	for {
		page, err := s.paths.Page(ctx, dir, DepthInfinity, cursor)
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(page.Objects))
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.deleteConcurrency)

		for batch := range slices.Chunk(keys, deleteBatchSize) {
			g.Go(func() error {
				if err := s.deleteLimiter.Wait(gctx); err != nil {
					return err
				}
				return s.store.Delete(gctx, batch...)
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		if page.Cursor == "" {
			return nil
		}
		cursor = page.Cursor
	}
}
