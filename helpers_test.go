package stowdrive_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/filesystem"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.DiscardHandler)

func newStore(t *testing.T) *filesystem.Store {
	t.Helper()

	root, err := os.OpenRoot(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	store, err := filesystem.NewFileStorage(root)
	require.NoError(t, err)

	return store
}

func newDrive(t *testing.T, store stowdrive.ObjectStore) *stowdrive.DriveService {
	t.Helper()

	drive, err := stowdrive.NewDriveService(stowdrive.DriveConfig{Store: store, PageSize: 2, Logger: discard})
	require.NoError(t, err)

	return drive
}

func putObject(t *testing.T, store stowdrive.ObjectStore, key, content, contentType string) stowdrive.StoredObject {
	t.Helper()

	obj, err := store.Put(context.Background(), key, strings.NewReader(content), stowdrive.PutOptions{
		HTTPMetadata: stowdrive.HTTPMetadata{ContentType: contentType},
	})
	require.NoError(t, err)

	return obj
}

func putDir(t *testing.T, store stowdrive.ObjectStore, key string) {
	t.Helper()
	putObject(t, store, key, "", stowdrive.DirectoryContentType)
}

func readObject(t *testing.T, store stowdrive.ObjectStore, key string) string {
	t.Helper()

	body, err := store.Get(context.Background(), key, stowdrive.GetOptions{})
	require.NoError(t, err)
	defer body.Body.Close()

	data, err := io.ReadAll(body.Body)
	require.NoError(t, err)

	return string(data)
}

// SpyObjectStore is a mock ObjectStore for failure paths a real store
// cannot easily produce.
type SpyObjectStore struct {
	mock.Mock
}

func (s *SpyObjectStore) Head(ctx context.Context, key string) (stowdrive.StoredObject, error) {
	args := s.Called(ctx, key)
	return args.Get(0).(stowdrive.StoredObject), args.Error(1)
}

func (s *SpyObjectStore) Get(ctx context.Context, key string, opts stowdrive.GetOptions) (*stowdrive.ObjectBody, error) {
	args := s.Called(ctx, key, opts)
	body, _ := args.Get(0).(*stowdrive.ObjectBody)
	return body, args.Error(1)
}

func (s *SpyObjectStore) Put(ctx context.Context, key string, body io.Reader, opts stowdrive.PutOptions) (stowdrive.StoredObject, error) {
	args := s.Called(ctx, key, body, opts)
	return args.Get(0).(stowdrive.StoredObject), args.Error(1)
}

func (s *SpyObjectStore) Delete(ctx context.Context, keys ...string) error {
	args := s.Called(ctx, keys)
	return args.Error(0)
}

func (s *SpyObjectStore) List(ctx context.Context, opts stowdrive.ListOptions) (stowdrive.ListPage, error) {
	args := s.Called(ctx, opts)
	return args.Get(0).(stowdrive.ListPage), args.Error(1)
}

func (s *SpyObjectStore) CreateMultipartUpload(ctx context.Context, key string, opts stowdrive.PutOptions) (stowdrive.MultipartUpload, error) {
	args := s.Called(ctx, key, opts)
	return args.Get(0).(stowdrive.MultipartUpload), args.Error(1)
}

func (s *SpyObjectStore) UploadPart(ctx context.Context, upload stowdrive.MultipartUpload, partNumber int, body io.Reader) (stowdrive.UploadedPart, error) {
	args := s.Called(ctx, upload, partNumber, body)
	return args.Get(0).(stowdrive.UploadedPart), args.Error(1)
}

func (s *SpyObjectStore) CompleteMultipartUpload(ctx context.Context, upload stowdrive.MultipartUpload, parts []stowdrive.UploadedPart) (stowdrive.StoredObject, error) {
	args := s.Called(ctx, upload, parts)
	return args.Get(0).(stowdrive.StoredObject), args.Error(1)
}

func (s *SpyObjectStore) AbortMultipartUpload(ctx context.Context, upload stowdrive.MultipartUpload) error {
	args := s.Called(ctx, upload)
	return args.Error(0)
}
