package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config defines the connection to an S3-compatible bucket.
type S3Config struct {
	Endpoint  string // host[:port]
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 is a backup store in an S3-compatible bucket (AWS S3, MinIO, ...).
// Objects are named <prefix>/<name>.
type S3 struct {
	api    *minio.Client
	bucket string
	prefix string
}

// NewS3 returns a store that uploads files to the configured bucket.
func NewS3(conf S3Config) (*S3, error) {
	if conf.Endpoint == "" || conf.Bucket == "" {
		return nil, fmt.Errorf("%w: empty S3 endpoint or bucket", ErrConfig)
	}
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return &S3{api: client, bucket: conf.Bucket, prefix: conf.Prefix}, nil
}

// Name returns the name of the store.
func (s *S3) Name() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}

// Store uploads srcPath and removes it once the object is written.
func (s *S3) Store(ctx context.Context, name, srcPath string) error {
	key := path.Join(s.prefix, filepath.Base(name))
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	verbose("uploading %v to 's3://%v/%v'", srcPath, s.bucket, key)
	info, err := s.api.PutObject(ctx, s.bucket, key, f, fi.Size(), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	verbose("successfully uploaded 's3://%v/%v' %v bytes", s.bucket, key, info.Size)
	f.Close()
	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	return nil
}
