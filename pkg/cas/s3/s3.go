// Package s3 implements the remote CAS tier on an S3-compatible bucket.
//
// Blobs are stored as objects named <prefix><hash>. The tier is written
// through when content enters the CAS and read back into the local tier
// when a workspace needs a blob the local tier lacks.
package s3

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittows/pkg/cas"
	"github.com/marmos91/dittows/pkg/fileops"
)

// maxDeleteBatch is the S3 DeleteObjects limit.
const maxDeleteBatch = 1000

// Client is the subset of *s3.Client the store uses. Tests substitute an
// in-memory fake.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config configures a Store.
type Config struct {
	Client Client

	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "cas/".
	KeyPrefix string

	// Hasher verifies content on Put; nil disables verification.
	Hasher fileops.Hasher
}

// Store is a BlobStore backed by S3.
//
// Thread Safety:
// The AWS client is safe for concurrent use and the store keeps no other
// mutable state.
type Store struct {
	client    Client
	bucket    string
	keyPrefix string
	hasher    fileops.Hasher
}

// New validates cfg and checks that the bucket is reachable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		hasher:    cfg.Hasher,
	}, nil
}

func (s *Store) key(hash string) string {
	return s.keyPrefix + hash
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func (s *Store) Has(ctx context.Context, hash string) (bool, error) {
	if err := cas.ValidateHash(hash); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head blob %s: %w", hash, err)
	}
	return true, nil
}

// Put uploads the content of r under hash. Readers that are not seekable
// are buffered in memory first so the upload has a known length.
func (s *Store) Put(ctx context.Context, hash string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cas.ValidateHash(hash); err != nil {
		return err
	}

	exists, err := s.Has(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("failed to read blob %s: %w", hash, err)
		}
		body = bytes.NewReader(data)
	}

	if s.hasher != nil {
		h := s.hasher.New()
		if _, err := io.Copy(h, body); err != nil {
			return fmt.Errorf("failed to hash blob %s: %w", hash, err)
		}
		if actual := hex.EncodeToString(h.Sum(nil)); actual != hash {
			return fmt.Errorf("blob %s (actual %s): %w", hash, actual, cas.ErrHashMismatch)
		}
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind blob %s: %w", hash, err)
		}
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
		Body:   body,
	}); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", hash, err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	if err := cas.ValidateHash(hash); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("blob %s: %w", hash, cas.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to get blob %s: %w", hash, err)
	}
	return out.Body, nil
}

func (s *Store) Size(ctx context.Context, hash string) (int64, error) {
	if err := cas.ValidateHash(hash); err != nil {
		return 0, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("blob %s: %w", hash, cas.ErrBlobNotFound)
		}
		return 0, fmt.Errorf("failed to head blob %s: %w", hash, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	if err := cas.ValidateHash(hash); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete blob %s: %w", hash, err)
	}
	return nil
}

// DeleteBatch removes blobs with DeleteObjects, at most 1000 keys per call.
func (s *Store) DeleteBatch(ctx context.Context, hashes []string) (map[string]error, error) {
	failures := make(map[string]error)

	for start := 0; start < len(hashes); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(hashes))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, h := range hashes[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.key(h))})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return failures, fmt.Errorf("failed to delete blob batch: %w", err)
		}
		for _, e := range out.Errors {
			hash := strings.TrimPrefix(aws.ToString(e.Key), s.keyPrefix)
			failures[hash] = fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}
	return failures, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var hashes []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, obj := range page.Contents {
			hash := strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix)
			if cas.ValidateHash(hash) == nil {
				hashes = append(hashes, hash)
			}
		}
	}

	sort.Strings(hashes)
	return hashes, nil
}

var _ cas.BlobStore = (*Store)(nil)
var _ cas.BatchDeleter = (*Store)(nil)
