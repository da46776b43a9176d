package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
)

// GCS is a backup store in a Google Cloud Storage bucket.  Objects are
// named <prefix>/<name>.
//
// The client uses default application credentials
// (~/.config/gcloud/application_default_credentials.json).
type GCS struct {
	bucket       string
	prefix       string
	client       stiface.Client
	bucketHandle stiface.BucketHandle
}

var (
	uploadTimeout = time.Hour

	errCreateClient = errors.New("failed to create GCS client")
	errUploadObject = errors.New("failed to upload GCS object")
	errCloseObject  = errors.New("failed to close GCS object")

	// Testing support.
	storageNewClient = storage.NewClient
)

// NewGCS returns a store that uploads files to the given bucket.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket name", ErrConfig)
	}
	verbose("creating new storage client for %v", bucket)
	client, err := storageNewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCreateClient, err)
	}
	adaptClient := stiface.AdaptClient(client)
	return newGCS(bucket, prefix, adaptClient, adaptClient.Bucket(bucket)), nil
}

func newGCS(bucket, prefix string, client stiface.Client, bucketHandle stiface.BucketHandle) *GCS {
	return &GCS{
		bucket:       bucket,
		prefix:       prefix,
		client:       client,
		bucketHandle: bucketHandle,
	}
}

// Name returns the name of the store.
func (g *GCS) Name() string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, g.prefix)
}

// Store uploads srcPath and removes it once the object is written.
//
// Methods in the storage package may retry calls that fail with transient
// errors. Retrying continues indefinitely unless the controlling context is
// canceled, the client is closed, or a non-transient error is received.
func (g *GCS) Store(ctx context.Context, name, srcPath string) error {
	objPath := path.Join(g.prefix, filepath.Base(name))
	verbose("uploading %v to '%v:%v'", srcPath, g.bucket, objPath)
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	defer f.Close()

	storageCtx, storageCancel := context.WithTimeout(ctx, uploadTimeout)
	defer storageCancel()
	writer := g.bucketHandle.Object(objPath).NewWriter(storageCtx)
	n, err := io.Copy(writer, f)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrMove, errUploadObject, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: %w: %v", ErrMove, errCloseObject, err)
	}
	verbose("successfully uploaded '%v:%v' to GCS %v bytes", g.bucket, objPath, n)
	f.Close()
	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("%w: %w", ErrMove, err)
	}
	return nil
}
