// Package s3store implements stowdrive.ObjectStore on Amazon S3 or an
// S3-compatible service (MinIO, R2, Localstack).
//
// Directory markers, custom metadata and thumbnails map onto plain S3
// objects and user metadata. Conditional writes use S3's If-Match and
// If-None-Match support on PutObject.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/sagarc03/stowdrive"
	"golang.org/x/sync/errgroup"
)

const (
	maxDeleteBatch   = 1000
	headConcurrency  = 8
	defaultListLimit = 1000
)

// Client is the subset of *s3.Client used by Store.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Config describes how to reach the bucket.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	// Endpoint overrides the S3 endpoint and switches to path-style
	// addressing (MinIO, Localstack, R2).
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// KeyPrefix is prepended to every key, e.g. "drive/".
	KeyPrefix  string `mapstructure:"key_prefix"`
	MaxRetries int    `mapstructure:"max_retries" validate:"min=0"`
}

// NewClient builds an S3 client from cfg. Without static credentials the
// default AWS credential chain applies.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("new s3 client: region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	opts = append(opts, awsconfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("new s3 client: load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Store is a stowdrive.ObjectStore backed by one S3 bucket.
type Store struct {
	client    Client
	bucket    string
	keyPrefix string
}

func New(client Client, bucket, keyPrefix string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("new s3 store: client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("new s3 store: bucket is required")
	}
	return &Store{client: client, bucket: bucket, keyPrefix: keyPrefix}, nil
}

func (s *Store) objectKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) driveKey(objectKey string) string {
	return strings.TrimPrefix(objectKey, s.keyPrefix)
}

// translate maps S3 errors onto stowdrive sentinels.
func translate(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w", op, stowdrive.ErrNotFound)
		case "PreconditionFailed", "NotModified", "ConditionalRequestConflict":
			return fmt.Errorf("%s: %w", op, stowdrive.ErrPreconditionFailed)
		case "InvalidRange":
			return fmt.Errorf("%s: %w", op, stowdrive.ErrRangeNotSatisfiable)
		case "NoSuchUpload":
			return fmt.Errorf("%s: %w", op, stowdrive.ErrNoSuchUpload)
		case "InvalidPart", "InvalidPartOrder", "EntityTooSmall":
			return fmt.Errorf("%s: %w: %s", op, stowdrive.ErrInvalidInput, apiErr.ErrorMessage())
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, stowdrive.ErrNotFound)
		case http.StatusNotModified, http.StatusPreconditionFailed:
			return fmt.Errorf("%s: %w", op, stowdrive.ErrPreconditionFailed)
		case http.StatusRequestedRangeNotSatisfiable:
			return fmt.Errorf("%s: %w", op, stowdrive.ErrRangeNotSatisfiable)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, stowdrive.ErrUpstream, err)
}

func checksums(etag string) stowdrive.Checksums {
	if strings.Contains(etag, "-") {
		return stowdrive.Checksums{}
	}
	return stowdrive.Checksums{MD5: etag}
}

func (s *Store) Head(ctx context.Context, key string) (stowdrive.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.StoredObject{}, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return stowdrive.StoredObject{}, translate("head "+key, err)
	}

	etag := stowdrive.TrimETag(aws.ToString(out.ETag))
	return stowdrive.StoredObject{
		Key:        key,
		Size:       aws.ToInt64(out.ContentLength),
		UploadedAt: aws.ToTime(out.LastModified),
		ETag:       etag,
		HTTPMetadata: stowdrive.HTTPMetadata{
			ContentType:        aws.ToString(out.ContentType),
			ContentDisposition: aws.ToString(out.ContentDisposition),
			ContentLanguage:    aws.ToString(out.ContentLanguage),
		},
		CustomMetadata: out.Metadata,
		Checksums:      checksums(etag),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string, opts stowdrive.GetOptions) (*stowdrive.ObjectBody, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}

	c := opts.OnlyIf
	if c.IfMatch != "" {
		in.IfMatch = aws.String(c.IfMatch)
	}
	if c.IfNoneMatch != "" {
		in.IfNoneMatch = aws.String(c.IfNoneMatch)
	}
	if !c.IfModifiedSince.IsZero() {
		in.IfModifiedSince = aws.Time(c.IfModifiedSince)
	}
	if !c.IfUnmodifiedSince.IsZero() {
		in.IfUnmodifiedSince = aws.Time(c.IfUnmodifiedSince)
	}
	if r := opts.Range; r != nil {
		in.Range = aws.String(rangeHeader(*r))
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, translate("get "+key, err)
	}

	etag := stowdrive.TrimETag(aws.ToString(out.ETag))
	body := &stowdrive.ObjectBody{
		StoredObject: stowdrive.StoredObject{
			Key:        key,
			Size:       aws.ToInt64(out.ContentLength),
			UploadedAt: aws.ToTime(out.LastModified),
			ETag:       etag,
			HTTPMetadata: stowdrive.HTTPMetadata{
				ContentType:        aws.ToString(out.ContentType),
				ContentDisposition: aws.ToString(out.ContentDisposition),
				ContentLanguage:    aws.ToString(out.ContentLanguage),
			},
			CustomMetadata: out.Metadata,
			Checksums:      checksums(etag),
		},
		Body: out.Body,
	}

	if opts.Range != nil {
		offset, length, total, ok := parseContentRange(aws.ToString(out.ContentRange))
		if ok {
			body.Size = total
			body.Range = &stowdrive.ContentRange{Offset: offset, Length: length}
		}
	}

	return body, nil
}

func rangeHeader(r stowdrive.ByteRange) string {
	if r.Suffix > 0 {
		return fmt.Sprintf("bytes=-%d", r.Suffix)
	}
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// parseContentRange parses "bytes a-b/size".
func parseContentRange(v string) (offset, length, total int64, ok bool) {
	spec, found := strings.CutPrefix(v, "bytes ")
	if !found {
		return 0, 0, 0, false
	}
	span, size, found := strings.Cut(spec, "/")
	if !found {
		return 0, 0, 0, false
	}
	startStr, endStr, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, 0, false
	}

	start, err1 := strconv.ParseInt(startStr, 10, 64)
	end, err2 := strconv.ParseInt(endStr, 10, 64)
	total, err3 := strconv.ParseInt(size, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}

	return start, end - start + 1, total, true
}

// Put uploads key. Time based preconditions are evaluated against a HEAD and
// then pinned with If-Match (or If-None-Match: * for absent keys) so the
// write fails if the object changed in between.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, opts stowdrive.PutOptions) (stowdrive.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.StoredObject{}, err
	}

	rs, cleanup, err := seekable(body)
	if err != nil {
		return stowdrive.StoredObject{}, fmt.Errorf("put %s: %w", key, err)
	}
	defer cleanup()

	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(key)),
		Body:     rs,
		Metadata: opts.CustomMetadata,
	}
	applyHTTPMetadata(opts.HTTPMetadata, &in.ContentType, &in.ContentDisposition, &in.ContentLanguage)

	if !opts.OnlyIf.IsZero() {
		var current *stowdrive.StoredObject
		obj, err := s.Head(ctx, key)
		switch {
		case err == nil:
			current = &obj
		case !errors.Is(err, stowdrive.ErrNotFound):
			return stowdrive.StoredObject{}, fmt.Errorf("put %s: %w", key, err)
		}

		if err := opts.OnlyIf.Evaluate(current); err != nil {
			return stowdrive.StoredObject{}, err
		}

		if current != nil {
			in.IfMatch = aws.String(stowdrive.QuoteETag(current.ETag))
		} else {
			in.IfNoneMatch = aws.String("*")
		}
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return stowdrive.StoredObject{}, translate("put "+key, err)
	}

	return s.Head(ctx, key)
}

func applyHTTPMetadata(md stowdrive.HTTPMetadata, contentType, disposition, language **string) {
	if md.ContentType != "" {
		*contentType = aws.String(md.ContentType)
	}
	if md.ContentDisposition != "" {
		*disposition = aws.String(md.ContentDisposition)
	}
	if md.ContentLanguage != "" {
		*language = aws.String(md.ContentLanguage)
	}
}

// seekable returns body as an io.ReadSeeker, spooling it to a temp file
// when needed. The SDK needs a seekable body to sign plain-http requests.
func seekable(body io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := body.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}

	f, err := os.CreateTemp("", "stowdrive-s3-*")
	if err != nil {
		return nil, nil, fmt.Errorf("spool body: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	if _, err := io.Copy(f, body); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("spool body: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("spool body: %w", err)
	}

	return f, cleanup, nil
}

// Delete removes keys in batches of up to 1000. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for start := 0; start < len(keys); start += maxDeleteBatch {
		batch := keys[start:min(start+maxDeleteBatch, len(keys))]

		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, key := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(s.objectKey(key))})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return translate("delete", err)
		}

		for _, e := range out.Errors {
			if aws.ToString(e.Code) == "NoSuchKey" {
				continue
			}
			return fmt.Errorf("delete %s: %w: %s", s.driveKey(aws.ToString(e.Key)), stowdrive.ErrUpstream, aws.ToString(e.Message))
		}
	}

	return nil
}

// List pages through ListObjectsV2. S3 listings carry no content type or
// user metadata, so every listed object is fetched with a bounded HEAD
// fan-out.
func (s *Store) List(ctx context.Context, opts stowdrive.ListOptions) (stowdrive.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return stowdrive.ListPage{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.objectKey(opts.Prefix)),
		MaxKeys: aws.Int32(int32(limit)),
	}
	if opts.Delimiter != "" {
		in.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.Cursor != "" {
		in.ContinuationToken = aws.String(opts.Cursor)
	}

	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return stowdrive.ListPage{}, translate("list", err)
	}

	page := stowdrive.ListPage{
		Objects:   make([]stowdrive.StoredObject, len(out.Contents)),
		Truncated: aws.ToBool(out.IsTruncated),
	}
	if page.Truncated {
		page.Cursor = aws.ToString(out.NextContinuationToken)
	}

	for _, cp := range out.CommonPrefixes {
		page.DelimitedPrefixes = append(page.DelimitedPrefixes, s.driveKey(aws.ToString(cp.Prefix)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)

	for i, item := range out.Contents {
		key := s.driveKey(aws.ToString(item.Key))
		g.Go(func() error {
			obj, err := s.Head(gctx, key)
			if errors.Is(err, stowdrive.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			page.Objects[i] = obj
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stowdrive.ListPage{}, fmt.Errorf("list: %w", err)
	}

	// Objects deleted between the listing and the HEAD leave zero entries.
	objects := page.Objects[:0]
	for _, obj := range page.Objects {
		if obj.Key != "" {
			objects = append(objects, obj)
		}
	}
	page.Objects = objects

	return page, nil
}
