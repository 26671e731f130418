//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittows/pkg/cas"
	casS3 "github.com/marmos91/dittows/pkg/cas/s3"
	castesting "github.com/marmos91/dittows/pkg/cas/testing"
	"github.com/marmos91/dittows/pkg/config"
	"github.com/marmos91/dittows/pkg/fileops"
)

func localstackEndpoint() string {
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "http://localhost:4566"
}

// setupTestS3 creates an S3 client and a test bucket on Localstack (or
// another S3-compatible endpoint). The bucket is emptied and removed by the
// returned cleanup function.
func setupTestS3(t *testing.T, bucketName string) (*s3.Client, func()) {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	// Path-style URLs are required for Localstack
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(localstackEndpoint())
		o.UsePathStyle = true
	})

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	cleanup := func() {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucketName), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	}

	return client, cleanup
}

// TestS3BlobStore_Integration runs the blob store suite against a real
// S3-compatible service.
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3BlobStore_Integration(t *testing.T) {
	ctx := context.Background()

	bucketName := "dittows-test-bucket"
	client, cleanup := setupTestS3(t, bucketName)
	defer cleanup()

	// Each test gets a unique key prefix for isolation
	testCounter := 0
	suite := &castesting.BlobStoreTestSuite{
		NewStore: func(t *testing.T) cas.BlobStore {
			testCounter++
			store, err := casS3.New(ctx, casS3.Config{
				Client:    client,
				Bucket:    bucketName,
				KeyPrefix: fmt.Sprintf("test-%d/", testCounter),
				Hasher:    fileops.SHA256Hasher{},
			})
			if err != nil {
				t.Fatalf("Failed to create S3 blob store for test %d: %v", testCounter, err)
			}
			return store
		},
		Hasher:          fileops.SHA256Hasher{},
		VerifiesContent: true,
	}

	suite.Run(t)
}

// TestS3RemoteTier_Integration builds the remote tier from configuration,
// the way the engine does, and checks that imported content lands in the
// bucket.
func TestS3RemoteTier_Integration(t *testing.T) {
	ctx := context.Background()

	bucketName := "dittows-remote-tier"
	_, cleanup := setupTestS3(t, bucketName)
	defer cleanup()

	casCfg := &config.CASConfig{
		Path:          t.TempDir(),
		HashAlgorithm: "sha256",
		Remote: config.RemoteConfig{
			Type: "s3",
			S3: map[string]any{
				"region":            "us-east-1",
				"bucket":            bucketName,
				"key_prefix":        "cas/",
				"endpoint":          localstackEndpoint(),
				"access_key_id":     "test",
				"secret_access_key": "test",
				"force_path_style":  true,
			},
		},
	}

	svc, err := config.CreateCASService(ctx, casCfg)
	if err != nil {
		t.Fatalf("Failed to create CAS service: %v", err)
	}

	path := filepath.Join(t.TempDir(), "content.bin")
	if err := os.WriteFile(path, []byte("remote tier content"), 0644); err != nil {
		t.Fatalf("Failed to write content: %v", err)
	}
	hash, err := svc.StoreContent(ctx, path)
	if err != nil {
		t.Fatalf("Failed to store content: %v", err)
	}

	exists, err := svc.Remote().Has(ctx, hash)
	if err != nil {
		t.Fatalf("Failed to check blob: %v", err)
	}
	if !exists {
		t.Fatal("Blob should exist in the remote tier")
	}

	hashes, err := svc.Remote().List(ctx)
	if err != nil {
		t.Fatalf("Failed to list blobs: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != hash {
		t.Errorf("Expected [%s], got %v", hash, hashes)
	}
}
