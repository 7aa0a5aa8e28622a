package s3store

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sagarc03/stowdrive"
)

func (s *Store) CreateMultipartUpload(ctx context.Context, key string, opts stowdrive.PutOptions) (stowdrive.MultipartUpload, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.MultipartUpload{}, err
	}

	in := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(key)),
		Metadata: opts.CustomMetadata,
	}
	applyHTTPMetadata(opts.HTTPMetadata, &in.ContentType, &in.ContentDisposition, &in.ContentLanguage)

	out, err := s.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return stowdrive.MultipartUpload{}, translate("create multipart upload "+key, err)
	}

	return stowdrive.MultipartUpload{Key: key, UploadID: aws.ToString(out.UploadId)}, nil
}

func (s *Store) UploadPart(ctx context.Context, upload stowdrive.MultipartUpload, partNumber int, body io.Reader) (stowdrive.UploadedPart, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.UploadedPart{}, err
	}

	rs, cleanup, err := seekable(body)
	if err != nil {
		return stowdrive.UploadedPart{}, fmt.Errorf("upload part %d: %w", partNumber, err)
	}
	defer cleanup()

	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(upload.Key)),
		UploadId:   aws.String(upload.UploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		Body:       rs,
	})
	if err != nil {
		return stowdrive.UploadedPart{}, translate(fmt.Sprintf("upload part %d", partNumber), err)
	}

	return stowdrive.UploadedPart{PartNumber: partNumber, ETag: stowdrive.TrimETag(aws.ToString(out.ETag))}, nil
}

func (s *Store) CompleteMultipartUpload(ctx context.Context, upload stowdrive.MultipartUpload, parts []stowdrive.UploadedPart) (stowdrive.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.StoredObject{}, err
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(stowdrive.QuoteETag(p.ETag)),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		})
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.objectKey(upload.Key)),
		UploadId:        aws.String(upload.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return stowdrive.StoredObject{}, translate("complete multipart upload "+upload.Key, err)
	}

	return s.Head(ctx, upload.Key)
}

func (s *Store) AbortMultipartUpload(ctx context.Context, upload stowdrive.MultipartUpload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(upload.Key)),
		UploadId: aws.String(upload.UploadID),
	})
	if err != nil {
		return translate("abort multipart upload "+upload.Key, err)
	}

	return nil
}
