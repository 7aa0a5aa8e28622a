package stowdrive_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sagarc03/stowdrive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestNewDriveService_RequiresStore(t *testing.T) {
	_, err := stowdrive.NewDriveService(stowdrive.DriveConfig{})
	assert.ErrorIs(t, err, stowdrive.ErrInvalidInput)
}

func TestDriveService_Mkcol(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	require.NoError(t, drive.Mkcol(ctx, "docs"))

	obj, err := store.Head(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, obj.IsDir())

	tt := []struct {
		name string
		key  string
		want error
	}{
		{name: "already exists", key: "docs", want: stowdrive.ErrMethodNotAllowed},
		{name: "root exists", key: "", want: stowdrive.ErrMethodNotAllowed},
		{name: "missing parent", key: "a/b", want: stowdrive.ErrConflict},
		{name: "invalid key", key: "a/../b", want: stowdrive.ErrInvalidInput},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, drive.Mkcol(ctx, tc.key), tc.want)
		})
	}

	require.NoError(t, drive.Mkcol(ctx, "docs/sub"))
}

func TestDriveService_Mkcol_ContextCanceled(t *testing.T) {
	drive := newDrive(t, newStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, drive.Mkcol(ctx, "docs"), context.Canceled)
}

func TestDriveService_Put(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()
	putDir(t, store, "docs")

	t.Run("stores with explicit content type", func(t *testing.T) {
		obj, err := drive.Put(ctx, stowdrive.PutInput{
			Key:          "docs/a.json",
			Body:         strings.NewReader(`{"a":1}`),
			HTTPMetadata: stowdrive.HTTPMetadata{ContentType: "application/json"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), obj.Size)
		assert.Equal(t, `{"a":1}`, readObject(t, store, "docs/a.json"))
	})

	t.Run("sniffs missing content type", func(t *testing.T) {
		obj, err := drive.Put(ctx, stowdrive.PutInput{Key: "docs/plain", Body: strings.NewReader("just some text")})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(obj.HTTPMetadata.ContentType, "text/plain"), obj.HTTPMetadata.ContentType)
		assert.Equal(t, "just some text", readObject(t, store, "docs/plain"))
	})

	t.Run("nil body stores empty object", func(t *testing.T) {
		obj, err := drive.Put(ctx, stowdrive.PutInput{Key: "docs/empty", HTTPMetadata: stowdrive.HTTPMetadata{ContentType: "text/plain"}})
		require.NoError(t, err)
		assert.Zero(t, obj.Size)
	})

	tt := []struct {
		name string
		in   stowdrive.PutInput
		want error
	}{
		{name: "empty key", in: stowdrive.PutInput{Key: ""}, want: stowdrive.ErrInvalidInput},
		{name: "invalid key", in: stowdrive.PutInput{Key: "docs/"}, want: stowdrive.ErrInvalidInput},
		{name: "missing parent", in: stowdrive.PutInput{Key: "nope/a.txt"}, want: stowdrive.ErrConflict},
		{name: "file as parent", in: stowdrive.PutInput{Key: "docs/a.json/x"}, want: stowdrive.ErrConflict},
		{name: "directory target", in: stowdrive.PutInput{Key: "docs"}, want: stowdrive.ErrMethodNotAllowed},
		{name: "malformed thumbnail", in: stowdrive.PutInput{Key: "docs/b", Thumbnail: "xyz"}, want: stowdrive.ErrInvalidInput},
		{name: "if-none-match on existing", in: stowdrive.PutInput{Key: "docs/a.json", OnlyIf: stowdrive.Conditions{IfNoneMatch: "*"}}, want: stowdrive.ErrPreconditionFailed},
		{name: "if-match on missing", in: stowdrive.PutInput{Key: "docs/new", OnlyIf: stowdrive.Conditions{IfMatch: `"abc"`}}, want: stowdrive.ErrPreconditionFailed},
		{name: "unsupported source", in: stowdrive.PutInput{Key: "docs/c", SourceURL: "file:///etc/passwd"}, want: stowdrive.ErrInvalidInput},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := drive.Put(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDriveService_Put_PrivateKeySkipsParentCheck(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)

	_, err := drive.Put(context.Background(), stowdrive.PutInput{
		Key:          stowdrive.ThumbnailKey(digestOf("x")),
		Body:         strings.NewReader("x"),
		HTTPMetadata: stowdrive.HTTPMetadata{ContentType: "image/png"},
	})
	require.NoError(t, err)
}

func TestDriveService_Put_SourceURL(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "a,b\n1,2\n")
	}))
	t.Cleanup(source.Close)

	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	obj, err := drive.Put(ctx, stowdrive.PutInput{Key: "data.csv", SourceURL: source.URL + "/data.csv"})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", obj.HTTPMetadata.ContentType)
	assert.Equal(t, "a,b\n1,2\n", readObject(t, store, "data.csv"))

	_, err = drive.Put(ctx, stowdrive.PutInput{Key: "gone.csv", SourceURL: source.URL + "/missing"})
	assert.ErrorIs(t, err, stowdrive.ErrUpstream)
}

func TestDriveService_Put_DropsStaleThumbnail(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	digest := digestOf("thumb")
	putObject(t, store, stowdrive.ThumbnailKey(digest), "thumb", "image/png")

	_, err := drive.Put(ctx, stowdrive.PutInput{
		Key:          "photo.png",
		Body:         strings.NewReader("original image"),
		HTTPMetadata: stowdrive.HTTPMetadata{ContentType: "image/png"},
		Thumbnail:    digest,
	})
	require.NoError(t, err)

	obj, err := store.Head(ctx, "photo.png")
	require.NoError(t, err)
	assert.Equal(t, digest, obj.Thumbnail())

	// same digest keeps the thumbnail
	_, err = drive.Put(ctx, stowdrive.PutInput{Key: "photo.png", Body: strings.NewReader("v2"), HTTPMetadata: obj.HTTPMetadata, Thumbnail: digest})
	require.NoError(t, err)
	_, err = store.Head(ctx, stowdrive.ThumbnailKey(digest))
	require.NoError(t, err)

	_, err = drive.Put(ctx, stowdrive.PutInput{Key: "photo.png", Body: strings.NewReader("v3"), HTTPMetadata: obj.HTTPMetadata})
	require.NoError(t, err)
	_, err = store.Head(ctx, stowdrive.ThumbnailKey(digest))
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)
}

func TestDriveService_Put_StoreFailure(t *testing.T) {
	store := new(SpyObjectStore)
	drive := newDrive(t, store)
	boom := errors.New("disk full")

	store.On("Head", mock.Anything, "a.txt").Return(stowdrive.StoredObject{}, stowdrive.ErrNotFound)
	store.On("Put", mock.Anything, "a.txt", mock.Anything, mock.Anything).Return(stowdrive.StoredObject{}, boom)

	_, err := drive.Put(context.Background(), stowdrive.PutInput{
		Key:          "a.txt",
		Body:         strings.NewReader("x"),
		HTTPMetadata: stowdrive.HTTPMetadata{ContentType: "text/plain"},
	})
	assert.ErrorIs(t, err, boom)
	store.AssertExpectations(t)
}

func TestDriveService_MultipartUpload(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()
	putDir(t, store, "big")

	_, err := drive.CreateUpload(ctx, stowdrive.CreateUploadInput{Key: "nope/file.bin"})
	assert.ErrorIs(t, err, stowdrive.ErrConflict)

	upload, err := drive.CreateUpload(ctx, stowdrive.CreateUploadInput{Key: "big/file.bin"})
	require.NoError(t, err)
	require.NotEmpty(t, upload.UploadID)

	_, err = drive.UploadPart(ctx, upload, 0, strings.NewReader("x"))
	assert.ErrorIs(t, err, stowdrive.ErrInvalidInput)
	_, err = drive.UploadPart(ctx, upload, 10001, strings.NewReader("x"))
	assert.ErrorIs(t, err, stowdrive.ErrInvalidInput)

	var parts []stowdrive.UploadedPart
	for i, chunk := range []string{"hello ", "multipart ", "world"} {
		part, err := drive.UploadPart(ctx, upload, i+1, strings.NewReader(chunk))
		require.NoError(t, err)
		parts = append(parts, part)
	}

	_, err = drive.CompleteUpload(ctx, upload, nil)
	assert.ErrorIs(t, err, stowdrive.ErrInvalidInput)

	// parts may arrive out of order
	obj, err := drive.CompleteUpload(ctx, upload, []stowdrive.UploadedPart{parts[2], parts[0], parts[1]})
	require.NoError(t, err)
	assert.Equal(t, int64(21), obj.Size)
	assert.Equal(t, "application/octet-stream", obj.HTTPMetadata.ContentType)
	assert.Equal(t, "hello multipart world", readObject(t, store, "big/file.bin"))
}

func TestDriveService_AbortUpload(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	upload, err := drive.CreateUpload(ctx, stowdrive.CreateUploadInput{Key: "file.bin"})
	require.NoError(t, err)

	require.NoError(t, drive.AbortUpload(ctx, upload))

	_, err = drive.UploadPart(ctx, upload, 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, stowdrive.ErrNoSuchUpload)
}

func TestDriveService_GetHead(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()
	obj := putObject(t, store, "a.txt", "0123456789", "text/plain")

	body, err := drive.Get(ctx, "a.txt", stowdrive.GetOptions{Range: &stowdrive.ByteRange{Start: 2, End: 4}})
	require.NoError(t, err)
	data, err := io.ReadAll(body.Body)
	require.NoError(t, err)
	require.NoError(t, body.Body.Close())
	assert.Equal(t, "234", string(data))
	require.NotNil(t, body.Range)
	assert.Equal(t, int64(2), body.Range.Offset)

	root, err := drive.Get(ctx, "", stowdrive.GetOptions{})
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	require.NoError(t, root.Body.Close())

	_, err = drive.Get(ctx, "missing", stowdrive.GetOptions{})
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)

	head, err := drive.Head(ctx, "a.txt", stowdrive.Conditions{IfMatch: stowdrive.QuoteETag(obj.ETag)})
	require.NoError(t, err)
	assert.Equal(t, obj.ETag, head.ETag)

	_, err = drive.Head(ctx, "a.txt", stowdrive.Conditions{IfNoneMatch: stowdrive.QuoteETag(obj.ETag)})
	assert.ErrorIs(t, err, stowdrive.ErrPreconditionFailed)
}

func TestDriveService_Propfind(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()
	putDir(t, store, "docs")
	putObject(t, store, "docs/a.txt", "a", "text/plain")
	putDir(t, store, "docs/sub")
	putObject(t, store, "docs/sub/b.txt", "b", "text/plain")

	collect := func(children func(func(stowdrive.StoredObject, error) bool)) []string {
		var keys []string
		for obj, err := range children {
			require.NoError(t, err)
			keys = append(keys, obj.Key)
		}
		return keys
	}

	target, children, err := drive.Propfind(ctx, "docs", stowdrive.DepthOne)
	require.NoError(t, err)
	assert.True(t, target.IsDir())
	assert.Equal(t, []string{"docs/a.txt", "docs/sub"}, collect(children))

	_, children, err = drive.Propfind(ctx, "docs", stowdrive.DepthInfinity)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt", "docs/sub", "docs/sub/b.txt"}, collect(children))

	_, children, err = drive.Propfind(ctx, "docs", stowdrive.DepthZero)
	require.NoError(t, err)
	assert.Empty(t, collect(children))

	target, children, err = drive.Propfind(ctx, "docs/a.txt", stowdrive.DepthOne)
	require.NoError(t, err)
	assert.False(t, target.IsDir())
	assert.Empty(t, collect(children))

	target, children, err = drive.Propfind(ctx, "", stowdrive.DepthOne)
	require.NoError(t, err)
	assert.True(t, target.IsRoot())
	assert.Equal(t, []string{"docs"}, collect(children))

	_, _, err = drive.Propfind(ctx, "missing", stowdrive.DepthOne)
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)
}

func TestDriveService_Copy_File(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()
	putObject(t, store, "a.txt", "alpha", "text/plain")
	putObject(t, store, "b.txt", "beta", "text/plain")
	putDir(t, store, "docs")

	created, err := drive.Copy(ctx, stowdrive.CopyInput{Source: "a.txt", Destination: "docs/a.txt"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alpha", readObject(t, store, "docs/a.txt"))

	_, err = drive.Copy(ctx, stowdrive.CopyInput{Source: "b.txt", Destination: "docs/a.txt"})
	assert.ErrorIs(t, err, stowdrive.ErrPreconditionFailed)

	created, err = drive.Copy(ctx, stowdrive.CopyInput{Source: "b.txt", Destination: "docs/a.txt", Overwrite: true})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "beta", readObject(t, store, "docs/a.txt"))

	tt := []struct {
		name string
		in   stowdrive.CopyInput
		want error
	}{
		{name: "missing source", in: stowdrive.CopyInput{Source: "nope", Destination: "x"}, want: stowdrive.ErrNotFound},
		{name: "root destination", in: stowdrive.CopyInput{Source: "a.txt", Destination: ""}, want: stowdrive.ErrInvalidInput},
		{name: "onto itself", in: stowdrive.CopyInput{Source: "a.txt", Destination: "a.txt", Overwrite: true}, want: stowdrive.ErrInvalidInput},
		{name: "missing destination parent", in: stowdrive.CopyInput{Source: "a.txt", Destination: "nope/a.txt"}, want: stowdrive.ErrConflict},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := drive.Copy(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDriveService_Copy_Tree(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	putDir(t, store, "src")
	putDir(t, store, "src/sub")
	for i := range 5 {
		putObject(t, store, fmt.Sprintf("src/f%d.txt", i), fmt.Sprintf("file %d", i), "text/plain")
	}
	putObject(t, store, "src/sub/deep.txt", "deep", "text/plain")

	_, err := drive.Copy(ctx, stowdrive.CopyInput{Source: "src", Destination: "src/inside", Depth: stowdrive.DepthInfinity})
	assert.ErrorIs(t, err, stowdrive.ErrInvalidInput)

	_, err = drive.Copy(ctx, stowdrive.CopyInput{Source: "src", Destination: "one", Depth: stowdrive.DepthOne})
	assert.ErrorIs(t, err, stowdrive.ErrInvalidInput)

	created, err := drive.Copy(ctx, stowdrive.CopyInput{Source: "src", Destination: "dst", Depth: stowdrive.DepthInfinity})
	require.NoError(t, err)
	assert.True(t, created)

	for i := range 5 {
		assert.Equal(t, fmt.Sprintf("file %d", i), readObject(t, store, fmt.Sprintf("dst/f%d.txt", i)))
	}
	assert.Equal(t, "deep", readObject(t, store, "dst/sub/deep.txt"))

	marker, err := store.Head(ctx, "dst/sub")
	require.NoError(t, err)
	assert.True(t, marker.IsDir())

	// depth zero copies only the marker
	_, err = drive.Copy(ctx, stowdrive.CopyInput{Source: "src", Destination: "shallow", Depth: stowdrive.DepthZero})
	require.NoError(t, err)
	_, err = store.Head(ctx, "shallow")
	require.NoError(t, err)
	_, err = store.Head(ctx, "shallow/f0.txt")
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)
}

func TestDriveService_Move(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	putDir(t, store, "old")
	putObject(t, store, "old/a.txt", "a", "text/plain")

	created, err := drive.Move(ctx, stowdrive.CopyInput{Source: "old", Destination: "new", Depth: stowdrive.DepthInfinity})
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, "a", readObject(t, store, "new/a.txt"))
	_, err = store.Head(ctx, "old")
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)
	_, err = store.Head(ctx, "old/a.txt")
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)
}

func TestDriveService_Move_DirectoryNeedsInfiniteDepth(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	putDir(t, store, "old")
	putObject(t, store, "old/a.txt", "a", "text/plain")
	putObject(t, store, "file.txt", "f", "text/plain")

	for _, depth := range []stowdrive.Depth{stowdrive.DepthZero, stowdrive.DepthOne} {
		_, err := drive.Move(ctx, stowdrive.CopyInput{Source: "old", Destination: "new", Depth: depth})
		assert.ErrorIs(t, err, stowdrive.ErrInvalidInput, depth.String())
	}

	assert.Equal(t, "a", readObject(t, store, "old/a.txt"))
	_, err := store.Head(ctx, "new")
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)

	// depth does not apply to a single object
	created, err := drive.Move(ctx, stowdrive.CopyInput{Source: "file.txt", Destination: "moved.txt", Depth: stowdrive.DepthZero})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "f", readObject(t, store, "moved.txt"))
}

func TestDriveService_Delete(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	putDir(t, store, "tree")
	putDir(t, store, "tree/sub")
	for i := range 7 {
		putObject(t, store, fmt.Sprintf("tree/sub/f%d", i), "x", "text/plain")
	}
	putObject(t, store, "keep.txt", "keep", "text/plain")

	require.NoError(t, drive.Delete(ctx, "tree"))

	exists, err := drive.Paths().Exists(ctx, "tree")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, []string{"keep.txt"}, childKeys(t, drive.Paths(), "", stowdrive.DepthInfinity))

	assert.ErrorIs(t, drive.Delete(ctx, "tree"), stowdrive.ErrNotFound)

	require.NoError(t, drive.Delete(ctx, "keep.txt"))
}

func TestDriveService_Delete_Root(t *testing.T) {
	store := newStore(t)
	drive := newDrive(t, store)
	ctx := context.Background()

	putDir(t, store, "a")
	putObject(t, store, "a/b.txt", "b", "text/plain")
	putObject(t, store, "c.txt", "c", "text/plain")
	thumb := stowdrive.ThumbnailKey(digestOf("t"))
	putObject(t, store, thumb, "t", "image/png")

	require.NoError(t, drive.Delete(ctx, ""))

	assert.Empty(t, childKeys(t, drive.Paths(), "", stowdrive.DepthInfinity))
	// private objects are not part of the drive
	_, err := store.Head(ctx, thumb)
	require.NoError(t, err)
}

func TestDriveService_Delete_StoreFailure(t *testing.T) {
	store := new(SpyObjectStore)
	drive := newDrive(t, store)
	boom := errors.New("boom")

	store.On("Head", mock.Anything, "a.txt").Return(stowdrive.StoredObject{Key: "a.txt"}, nil)
	store.On("Delete", mock.Anything, []string{"a.txt"}).Return(boom)

	assert.ErrorIs(t, drive.Delete(context.Background(), "a.txt"), boom)
	store.AssertExpectations(t)
}
