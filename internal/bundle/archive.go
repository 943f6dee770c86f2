package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver zips bundles and uploads them to an S3-compatible bucket
type S3Archiver struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// S3Options configures NewS3Archiver
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // optional, e.g. a MinIO URL; enables path-style addressing
}

// NewS3Archiver loads AWS configuration from the default chain
func NewS3Archiver(ctx context.Context, opts S3Options) (*S3Archiver, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArchiverWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3ArchiverWithClient wraps an existing S3 client
func NewS3ArchiverWithClient(client *s3.Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// Archive uploads <prefix><bundle name>.zip and returns its s3:// location
func (a *S3Archiver) Archive(ctx context.Context, b *ProjectBundle) (string, error) {
	var buf bytes.Buffer
	if err := ZipDir(b.RootPath, &buf); err != nil {
		return "", fmt.Errorf("zip bundle: %w", err)
	}

	key := path.Join(strings.TrimSuffix(a.prefix, "/"), b.Name+".zip")
	key = strings.TrimPrefix(key, "/")
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload bundle: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// ZipDir writes every regular file under root to w, with paths relative to
// root's parent so the archive unpacks into a single directory.
func ZipDir(root string, w io.Writer) error {
	zw := zip.NewWriter(w)
	base := filepath.Dir(root)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		dst, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, f)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
