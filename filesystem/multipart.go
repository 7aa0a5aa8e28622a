package filesystem

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/sagarc03/stowdrive"
)

const uploadManifest = "upload.json"

type manifest struct {
	Key            string                 `json:"key"`
	HTTPMetadata   stowdrive.HTTPMetadata `json:"httpMetadata"`
	CustomMetadata map[string]string      `json:"customMetadata,omitempty"`
}

func uploadDir(id string) string {
	return uploadsDir + "/" + id
}

func partPath(id string, n int) string {
	return fmt.Sprintf("%s/part-%05d", uploadDir(id), n)
}

// CreateMultipartUpload records the upload and its target metadata under
// the uploads directory.
func (s *Store) CreateMultipartUpload(ctx context.Context, key string, opts stowdrive.PutOptions) (stowdrive.MultipartUpload, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.MultipartUpload{}, err
	}

	id := uuid.New().String()
	if err := s.root.MkdirAll(uploadDir(id), 0o755); err != nil {
		return stowdrive.MultipartUpload{}, fmt.Errorf("create multipart upload: %w", err)
	}

	data, err := json.Marshal(manifest{Key: key, HTTPMetadata: opts.HTTPMetadata, CustomMetadata: opts.CustomMetadata})
	if err != nil {
		return stowdrive.MultipartUpload{}, fmt.Errorf("create multipart upload: %w", err)
	}

	if err := s.root.WriteFile(uploadDir(id)+"/"+uploadManifest, data, 0o644); err != nil {
		return stowdrive.MultipartUpload{}, fmt.Errorf("create multipart upload: %w", err)
	}

	return stowdrive.MultipartUpload{Key: key, UploadID: id}, nil
}

func (s *Store) readManifest(upload stowdrive.MultipartUpload) (manifest, error) {
	if _, err := uuid.Parse(upload.UploadID); err != nil {
		return manifest{}, stowdrive.ErrNoSuchUpload
	}

	data, err := s.root.ReadFile(uploadDir(upload.UploadID) + "/" + uploadManifest)
	if errors.Is(err, os.ErrNotExist) {
		return manifest{}, stowdrive.ErrNoSuchUpload
	}
	if err != nil {
		return manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	if m.Key != upload.Key {
		return manifest{}, stowdrive.ErrNoSuchUpload
	}

	return m, nil
}

// UploadPart stores one part. Re-uploading a part number replaces it.
func (s *Store) UploadPart(ctx context.Context, upload stowdrive.MultipartUpload, partNumber int, body io.Reader) (stowdrive.UploadedPart, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.UploadedPart{}, err
	}

	if _, err := s.readManifest(upload); err != nil {
		return stowdrive.UploadedPart{}, err
	}

	tmpFile := tmpDir + "/" + tmpFileName()
	t, err := s.root.Create(tmpFile)
	if err != nil {
		return stowdrive.UploadedPart{}, fmt.Errorf("could not open temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			if rmErr := s.root.Remove(tmpFile); rmErr != nil {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	h := md5.New()
	_, copyErr := io.Copy(io.MultiWriter(h, t), &ctxReader{ctx: ctx, r: body})
	closeErr := t.Close()
	if copyErr != nil {
		return stowdrive.UploadedPart{}, fmt.Errorf("could not copy part contents: %w", copyErr)
	}
	if closeErr != nil {
		return stowdrive.UploadedPart{}, fmt.Errorf("could not close part: %w", closeErr)
	}

	etag := hex.EncodeToString(h.Sum(nil))

	if err := s.root.Rename(tmpFile, partPath(upload.UploadID, partNumber)); err != nil {
		return stowdrive.UploadedPart{}, fmt.Errorf("failed to rename part: %w", err)
	}
	success = true

	if err := s.root.WriteFile(partPath(upload.UploadID, partNumber)+".etag", []byte(etag), 0o644); err != nil {
		return stowdrive.UploadedPart{}, fmt.Errorf("write part etag: %w", err)
	}

	return stowdrive.UploadedPart{PartNumber: partNumber, ETag: etag}, nil
}

// CompleteMultipartUpload concatenates the listed parts into the target key
// and removes the upload.
func (s *Store) CompleteMultipartUpload(ctx context.Context, upload stowdrive.MultipartUpload, parts []stowdrive.UploadedPart) (stowdrive.StoredObject, error) {
	m, err := s.readManifest(upload)
	if err != nil {
		return stowdrive.StoredObject{}, err
	}

	readers := make([]io.Reader, 0, len(parts))
	files := make([]*os.File, 0, len(parts))
	defer func() {
		for _, f := range files {
			closeQuietly(f, upload.Key)
		}
	}()

	for _, part := range parts {
		etag, err := s.root.ReadFile(partPath(upload.UploadID, part.PartNumber) + ".etag")
		if err != nil {
			return stowdrive.StoredObject{}, fmt.Errorf("complete multipart upload: %w: missing part %d", stowdrive.ErrInvalidInput, part.PartNumber)
		}
		if string(etag) != stowdrive.TrimETag(part.ETag) {
			return stowdrive.StoredObject{}, fmt.Errorf("complete multipart upload: %w: etag mismatch for part %d", stowdrive.ErrInvalidInput, part.PartNumber)
		}

		f, err := s.root.Open(partPath(upload.UploadID, part.PartNumber))
		if err != nil {
			return stowdrive.StoredObject{}, fmt.Errorf("complete multipart upload: open part %d: %w", part.PartNumber, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	obj, err := s.Put(ctx, upload.Key, io.MultiReader(readers...), stowdrive.PutOptions{
		HTTPMetadata:   m.HTTPMetadata,
		CustomMetadata: m.CustomMetadata,
	})
	if err != nil {
		return stowdrive.StoredObject{}, fmt.Errorf("complete multipart upload: %w", err)
	}

	if err := s.root.RemoveAll(uploadDir(upload.UploadID)); err != nil {
		slog.Warn("failed to remove upload", "upload_id", upload.UploadID, "err", err)
	}

	return obj, nil
}

// AbortMultipartUpload discards an upload and its parts.
func (s *Store) AbortMultipartUpload(ctx context.Context, upload stowdrive.MultipartUpload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.readManifest(upload); err != nil {
		return err
	}

	if err := s.root.RemoveAll(uploadDir(upload.UploadID)); err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}

	return nil
}
