package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/janelia-flyem/n5ng"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"
)

// OpenBucket returns a read-only view of an array store as a blob.Bucket.
// The reference should be of the form:
//
//	/path/to/volume.n5      (local directory)
//	file:///path/to/volume.zarr
//	mem://                  (empty in-memory bucket, for testing)
//	s3://<bucketname>[/<prefix>]
//	gs://<bucketname>[/<prefix>]
func OpenBucket(ctx context.Context, ref string) (bucket *blob.Bucket, err error) {
	switch {
	case ref == "mem://" || ref == "mem":
		return memblob.OpenBucket(nil), nil

	case strings.HasPrefix(ref, "s3://"):
		// This relies on the non-GCS-specific blob API and requires that the user:
		// A: Have set up AWS credentials in ways gocloud can find them (see the "aws config" command)
		// B: Have set the AWS_REGION environment variable (usually to us-east-2)
		bucketName, prefix := splitBucketRef(strings.TrimPrefix(ref, "s3://"))
		bucket, err = blob.OpenBucket(ctx, "s3://"+bucketName)
		if err != nil {
			n5ng.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		return prefixed(bucket, prefix), nil

	case strings.HasPrefix(ref, "gs://"):
		// See https://cloud.google.com/docs/authentication/production
		// for more info on alternatives.
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, err
		}
		client, err := gcp.NewHTTPClient(
			gcp.DefaultTransport(),
			gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, err
		}
		bucketName, prefix := splitBucketRef(strings.TrimPrefix(ref, "gs://"))
		bucket, err = gcsblob.OpenBucket(ctx, client, bucketName, nil)
		if err != nil {
			n5ng.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		return prefixed(bucket, prefix), nil

	case strings.Contains(ref, "://") && !strings.HasPrefix(ref, "file://"):
		return nil, fmt.Errorf("unsupported store reference %q: %w", ref, n5ng.ErrUnsupported)
	}

	dir := strings.TrimPrefix(ref, "file://")
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("can't open store directory %q: %w", dir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("store path %q is not a directory", dir)
	}
	return fileblob.OpenBucket(dir, nil)
}

func splitBucketRef(ref string) (bucketName, prefix string) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) == 2 {
		return parts[0], strings.Trim(parts[1], "/")
	}
	return parts[0], ""
}

func prefixed(bucket *blob.Bucket, prefix string) *blob.Bucket {
	if prefix == "" {
		return bucket
	}
	return blob.PrefixedBucket(bucket, prefix+"/")
}

// ReadObject returns the object at key or nil if it doesn't exist.
func ReadObject(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("can't read %q: %v", key, err)
	}
	return data, nil
}

// JoinKey joins path elements into a bucket key, ignoring empty elements.
func JoinKey(elems ...string) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}
