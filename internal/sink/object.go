package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zjrosen/exorcist/internal/log"
)

// ObjectConfig holds the connection settings for an S3-compatible store.
type ObjectConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// objectClient is the subset of *minio.Client used by Object.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Object writes the map to a key in an S3-compatible bucket.
type Object struct {
	client objectClient
	bucket string
	key    string
	region string

	initOnce sync.Once
	initErr  error
}

// IsObjectURL reports whether dest uses the s3:// scheme.
func IsObjectURL(dest string) bool {
	return strings.HasPrefix(strings.ToLower(dest), "s3://")
}

// ParseObjectURL splits "s3://bucket/path/to/key" into bucket and key.
func ParseObjectURL(dest string) (bucket, key string, err error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", "", fmt.Errorf("parsing object url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fmt.Errorf("object url %q must use the s3:// scheme", dest)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("object url %q has no bucket", dest)
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("object url %q has no object key", dest)
	}
	return bucket, key, nil
}

// NewObject returns a sink writing to dest ("s3://bucket/key") using cfg.
func NewObject(dest string, cfg ObjectConfig) (*Object, error) {
	bucket, key, err := ParseObjectURL(dest)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object store access key and secret key are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}

	return newObject(client, bucket, key, region), nil
}

func newObject(client objectClient, bucket, key, region string) *Object {
	return &Object{
		client: client,
		bucket: bucket,
		key:    key,
		region: region,
	}
}

// Name returns the last element of the object key.
func (o *Object) Name() (string, bool) {
	return path.Base(o.key), true
}

// URL returns the s3:// location of the object.
func (o *Object) URL() string {
	return "s3://" + o.bucket + "/" + o.key
}

func (o *Object) ensureBucket(ctx context.Context) error {
	o.initOnce.Do(func() {
		exists, err := o.client.BucketExists(ctx, o.bucket)
		if err != nil {
			o.initErr = err
			return
		}
		if exists {
			return
		}
		log.Info(log.CatSink, "creating bucket", "bucket", o.bucket, "region", o.region)
		o.initErr = o.client.MakeBucket(ctx, o.bucket, minio.MakeBucketOptions{Region: o.region})
	})
	return o.initErr
}

// WriteMap uploads data, creating the bucket on first use.
func (o *Object) WriteMap(ctx context.Context, data []byte) error {
	if err := o.ensureBucket(ctx); err != nil {
		return &IOError{Op: "mkbucket", Path: o.URL(), Err: err}
	}

	_, err := o.client.PutObject(ctx, o.bucket, o.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return &IOError{Op: "put", Path: o.URL(), Err: err}
	}

	log.Debug(log.CatSink, "uploaded map", "url", o.URL(), "bytes", len(data))
	return nil
}
