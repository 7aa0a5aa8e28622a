// Package filesystem provides a file system ObjectStore for stowdrive.
//
// Every object is one file holding its content followed by a JSON metadata
// trailer, so writes stay atomic through a temp file and rename. Key
// segments map to directories prefixed with "_", which keeps a directory
// marker ("a") and its children ("a/b") from colliding on disk.
package filesystem

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sagarc03/stowdrive"
)

const (
	objectsDir  = "objects"
	uploadsDir  = "uploads"
	tmpDir      = "tmp"
	objectFile  = "obj"
	segmentMark = "_"
	trailerLen  = 8
	lockStripes = 64

	defaultListLimit = 1000
)

// Store is an ObjectStore rooted at a directory.
type Store struct {
	root *os.Root
	// treeMu serialises pruning of empty directories against writers
	// creating them.
	treeMu sync.RWMutex
	locks  [lockStripes]sync.Mutex
	now    func() time.Time
}

// NewFileStorage creates a new Store with the given root directory.
// The root provides sandboxed file operations preventing path traversal.
func NewFileStorage(root *os.Root) (*Store, error) {
	for _, dir := range []string{objectsDir, uploadsDir, tmpDir} {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("new file storage: %w", err)
		}
	}
	return &Store{root: root, now: time.Now}, nil
}

func keyDir(key string) string {
	if key == "" {
		return objectsDir
	}
	return objectsDir + "/" + segmentMark + strings.ReplaceAll(key, "/", "/"+segmentMark)
}

func keyPath(key string) string {
	return keyDir(key) + "/" + objectFile
}

func (s *Store) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Head reads the metadata trailer of key.
func (s *Store) Head(ctx context.Context, key string) (stowdrive.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.StoredObject{}, err
	}

	f, err := s.open(key)
	if err != nil {
		return stowdrive.StoredObject{}, err
	}
	defer closeQuietly(f, key)

	obj, _, err := readTrailer(f, key)
	return obj, err
}

func (s *Store) open(key string) (*os.File, error) {
	if key == "" {
		return nil, stowdrive.ErrNotFound
	}

	f, err := s.root.Open(keyPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, stowdrive.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	return f, nil
}

// readTrailer returns the object metadata and the length of its content.
func readTrailer(f *os.File, key string) (stowdrive.StoredObject, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return stowdrive.StoredObject{}, 0, fmt.Errorf("stat object: %w", err)
	}

	if info.Size() < trailerLen {
		return stowdrive.StoredObject{}, 0, fmt.Errorf("object %s: truncated: %w", key, stowdrive.ErrInternal)
	}

	var lenBuf [trailerLen]byte
	if _, err := f.ReadAt(lenBuf[:], info.Size()-trailerLen); err != nil {
		return stowdrive.StoredObject{}, 0, fmt.Errorf("read trailer: %w", err)
	}

	metaLen := int64(binary.BigEndian.Uint64(lenBuf[:]))
	dataLen := info.Size() - trailerLen - metaLen
	if metaLen <= 0 || dataLen < 0 {
		return stowdrive.StoredObject{}, 0, fmt.Errorf("object %s: corrupt trailer: %w", key, stowdrive.ErrInternal)
	}

	var obj stowdrive.StoredObject
	if err := json.NewDecoder(io.NewSectionReader(f, dataLen, metaLen)).Decode(&obj); err != nil {
		return stowdrive.StoredObject{}, 0, fmt.Errorf("decode metadata: %w", err)
	}

	obj.Key = key
	return obj, dataLen, nil
}

// Get opens key for reading after evaluating the preconditions.
func (s *Store) Get(ctx context.Context, key string, opts stowdrive.GetOptions) (*stowdrive.ObjectBody, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.open(key)
	if err != nil {
		return nil, err
	}

	obj, dataLen, err := readTrailer(f, key)
	if err != nil {
		closeQuietly(f, key)
		return nil, err
	}

	if err := opts.OnlyIf.Evaluate(&obj); err != nil {
		closeQuietly(f, key)
		return nil, err
	}

	body := &stowdrive.ObjectBody{StoredObject: obj}

	if opts.Range == nil {
		body.Body = readCloser{Reader: io.NewSectionReader(f, 0, dataLen), Closer: f}
		return body, nil
	}

	cr, err := opts.Range.Resolve(dataLen)
	if err != nil {
		closeQuietly(f, key)
		return nil, err
	}

	body.Range = &cr
	body.Body = readCloser{Reader: io.NewSectionReader(f, cr.Offset, cr.Length), Closer: f}
	return body, nil
}

// Put atomically writes key using a temp file and rename. Preconditions are
// evaluated against the current object just before the rename.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, opts stowdrive.PutOptions) (stowdrive.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.StoredObject{}, err
	}

	if key == "" {
		return stowdrive.StoredObject{}, fmt.Errorf("put: %w: key cannot be empty", stowdrive.ErrInvalidInput)
	}

	tmp, obj, err := s.writeTemp(ctx, key, body, opts)
	if err != nil {
		return stowdrive.StoredObject{}, err
	}

	committed := false
	defer func() {
		if !committed {
			if rmErr := s.root.Remove(tmp); rmErr != nil {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	if err := s.commit(key, tmp, opts.OnlyIf); err != nil {
		return stowdrive.StoredObject{}, err
	}

	committed = true
	return obj, nil
}

func (s *Store) writeTemp(ctx context.Context, key string, body io.Reader, opts stowdrive.PutOptions) (string, stowdrive.StoredObject, error) {
	tmpFile := tmpDir + "/" + tmpFileName()
	t, err := s.root.Create(tmpFile)
	if err != nil {
		return "", stowdrive.StoredObject{}, fmt.Errorf("could not open temp file: %w", err)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			slog.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(tmpFile); rmErr != nil {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	md5h := md5.New()
	sha := sha256.New()
	w := io.MultiWriter(md5h, sha, t)

	size, err := io.Copy(w, &ctxReader{ctx: ctx, r: body})
	if err != nil {
		return "", stowdrive.StoredObject{}, fmt.Errorf("could not copy object contents: %w", err)
	}

	md := opts.HTTPMetadata
	if md.ContentType == "" {
		md.ContentType = detectContentType(key)
	}

	obj := stowdrive.StoredObject{
		Key:            key,
		Size:           size,
		UploadedAt:     s.now().UTC(),
		ETag:           hex.EncodeToString(md5h.Sum(nil)),
		HTTPMetadata:   md,
		CustomMetadata: opts.CustomMetadata,
		Checksums: stowdrive.Checksums{
			MD5:    hex.EncodeToString(md5h.Sum(nil)),
			SHA256: hex.EncodeToString(sha.Sum(nil)),
		},
	}

	meta, err := json.Marshal(obj)
	if err != nil {
		return "", stowdrive.StoredObject{}, fmt.Errorf("encode metadata: %w", err)
	}

	var lenBuf [trailerLen]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(meta)))

	if _, err := t.Write(append(meta, lenBuf[:]...)); err != nil {
		return "", stowdrive.StoredObject{}, fmt.Errorf("write metadata: %w", err)
	}

	if err := t.Sync(); err != nil {
		return "", stowdrive.StoredObject{}, fmt.Errorf("could not sync written file: %w", err)
	}

	success = true
	return tmpFile, obj, nil
}

func (s *Store) commit(key, tmp string, onlyIf stowdrive.Conditions) error {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if !onlyIf.IsZero() {
		var current *stowdrive.StoredObject
		obj, err := s.Head(context.Background(), key)
		switch {
		case err == nil:
			current = &obj
		case !errors.Is(err, stowdrive.ErrNotFound):
			return fmt.Errorf("commit %s: %w", key, err)
		}

		if err := onlyIf.Evaluate(current); err != nil {
			return err
		}
	}

	if err := s.root.MkdirAll(keyDir(key), 0o755); err != nil {
		return fmt.Errorf("could not create intermediate directories: %w", err)
	}

	if err := s.root.Rename(tmp, keyPath(key)); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Delete removes keys and prunes directories left empty. Missing keys are
// ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	for _, key := range keys {
		if key == "" {
			continue
		}

		err := s.root.Remove(keyPath(key))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not delete object %s: %w", key, err)
		}

		s.prune(keyDir(key))
	}

	return nil
}

// prune removes dir and its ancestors while they are empty.
func (s *Store) prune(dir string) {
	for dir != objectsDir && strings.HasPrefix(dir, objectsDir+"/") {
		if err := s.root.Remove(dir); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}

type listItem struct {
	key    string
	prefix bool
	path   string
}

// List returns keys starting with opts.Prefix in lexical order. The only
// supported delimiter is "/".
func (s *Store) List(ctx context.Context, opts stowdrive.ListOptions) (stowdrive.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.ListPage{}, err
	}

	if opts.Delimiter != "" && opts.Delimiter != "/" {
		return stowdrive.ListPage{}, fmt.Errorf("list: %w: unsupported delimiter %q", stowdrive.ErrInvalidInput, opts.Delimiter)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	dirKey := ""
	if i := strings.LastIndexByte(opts.Prefix, '/'); i >= 0 {
		dirKey = opts.Prefix[:i]
	}

	var items []listItem
	var err error
	if opts.Delimiter == "/" {
		items, err = s.readLevel(ctx, dirKey)
	} else {
		err = s.walk(ctx, keyDir(dirKey), dirKey, &items)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stowdrive.ListPage{}, nil
		}
		return stowdrive.ListPage{}, fmt.Errorf("failed to list objects: %w", err)
	}

	items = slices.DeleteFunc(items, func(it listItem) bool {
		return !strings.HasPrefix(it.key, opts.Prefix) || (opts.Cursor != "" && it.key <= opts.Cursor)
	})
	slices.SortFunc(items, func(a, b listItem) int { return strings.Compare(a.key, b.key) })

	page := stowdrive.ListPage{}
	if len(items) > limit {
		items = items[:limit]
		page.Truncated = true
	}

	for _, it := range items {
		if it.prefix {
			page.DelimitedPrefixes = append(page.DelimitedPrefixes, it.key)
			continue
		}

		obj, err := s.Head(ctx, it.key)
		if errors.Is(err, stowdrive.ErrNotFound) {
			continue
		}
		if err != nil {
			return stowdrive.ListPage{}, fmt.Errorf("list: %w", err)
		}
		page.Objects = append(page.Objects, obj)
	}

	if page.Truncated && len(items) > 0 {
		page.Cursor = items[len(items)-1].key
	}

	return page, nil
}

// readLevel lists the direct children of dirKey: objects, plus a "key/"
// prefix for every child directory holding descendants.
func (s *Store) readLevel(ctx context.Context, dirKey string) ([]listItem, error) {
	entries, err := fs.ReadDir(s.root.FS(), keyDir(dirKey))
	if err != nil {
		return nil, err
	}

	var items []listItem
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, ok := strings.CutPrefix(entry.Name(), segmentMark)
		if !entry.IsDir() || !ok {
			continue
		}

		key := stowdrive.ChildPrefix(dirKey) + name
		childDir := keyDir(key)

		children, err := fs.ReadDir(s.root.FS(), childDir)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			if child.Name() == objectFile {
				items = append(items, listItem{key: key, path: childDir + "/" + objectFile})
				break
			}
		}

		if slices.ContainsFunc(children, func(c fs.DirEntry) bool {
			return c.IsDir() && strings.HasPrefix(c.Name(), segmentMark)
		}) {
			items = append(items, listItem{key: key + "/", prefix: true})
		}
	}

	return items, nil
}

func (s *Store) walk(ctx context.Context, dir, key string, items *[]listItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := fs.ReadDir(s.root.FS(), dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Name() == objectFile && !entry.IsDir() && key != "" {
			*items = append(*items, listItem{key: key, path: dir + "/" + objectFile})
			continue
		}

		name, ok := strings.CutPrefix(entry.Name(), segmentMark)
		if !entry.IsDir() || !ok {
			continue
		}

		if err := s.walk(ctx, dir+"/"+entry.Name(), stowdrive.ChildPrefix(key)+name, items); err != nil {
			return err
		}
	}

	return nil
}

func closeQuietly(f *os.File, key string) {
	if err := f.Close(); err != nil {
		slog.Warn("failed to close file", "key", key, "err", err)
	}
}

func detectContentType(key string) string {
	contentType := mime.TypeByExtension(path.Ext(key))

	if contentType == "" {
		return "application/octet-stream"
	}

	return contentType
}

func tmpFileName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
}
