package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"bkp-go/internal/bkp"
	"bkp-go/internal/index"
)

// S3Device stores backups in an S3 bucket under an optional key prefix:
//
//	<prefix>/content/<project>/<path...>   (file content)
//	<prefix>/manifests/<project>           (the project's current manifest)
//	<prefix>/index.log                     (the device's index log fragment)
//
// Credentials come from the default AWS chain unless static keys are
// configured. A custom endpoint switches the client to path-style
// addressing for S3-compatible services.
type S3Device struct {
	name      string
	bucket    string
	prefix    string
	region    string
	endpoint  string
	accessKey string
	secretKey string
}

// NewS3Device creates an S3 device. The bucket is not touched until
// Connect.
func NewS3Device(name, bucket, prefix, region, endpoint, accessKey, secretKey string) (*S3Device, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required for s3 device")
	}
	if region == "" {
		return nil, fmt.Errorf("region required for s3 device")
	}
	return &S3Device{
		name:      name,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		region:    region,
		endpoint:  endpoint,
		accessKey: accessKey,
		secretKey: secretKey,
	}, nil
}

// Connect builds the client and verifies the bucket is reachable.
func (d *S3Device) Connect(ctx context.Context) (bkp.Connection, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(d.region),
	}
	if d.accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.accessKey, d.secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if d.endpoint != "" {
			o.BaseEndpoint = aws.String(d.endpoint)
			o.UsePathStyle = true
		}
	})
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %q not reachable: %w", d.bucket, err)
	}
	return &s3Conn{
		name:     d.name,
		bucket:   d.bucket,
		prefix:   d.prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

type s3Conn struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

var _ bkp.Connection = (*s3Conn)(nil)

func (c *s3Conn) key(parts ...string) string {
	if c.prefix != "" {
		parts = append([]string{c.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (c *s3Conn) ListProjects(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)

	// Manifest documents are keyed by project name.
	mp := c.key("manifests") + "/"
	pag := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(mp),
	})
	for pag.HasMorePages() {
		page, err := pag.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing device projects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), mp)
			if name != "" && !strings.Contains(name, "/") {
				seen[name] = true
			}
		}
	}

	// Content prefixes cover projects uploaded before their first manifest.
	cp := c.key("content") + "/"
	pag = s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(cp),
		Delimiter: aws.String("/"),
	})
	for pag.HasMorePages() {
		page, err := pag.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing device projects: %w", err)
		}
		for _, pre := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(pre.Prefix), cp), "/")
			if name != "" {
				seen[name] = true
			}
		}
	}

	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects, nil
}

func (c *s3Conn) WalkManifest(ctx context.Context, project string, fn func(index.ManifestEntry) error) error {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key("manifests", project)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("fetching device manifest: %w", err)
	}
	defer out.Body.Close()

	m, err := index.DecodeManifest(out.Body)
	if err != nil {
		return &index.CorruptionError{StorageID: c.name, Err: err}
	}
	for _, p := range m.Paths() {
		e, _ := m.Entry(p)
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *s3Conn) WriteManifest(ctx context.Context, project string, m *index.Manifest) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key("manifests", project)),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("storing device manifest: %w", err)
	}
	return nil
}

func (c *s3Conn) Upload(ctx context.Context, project, path string, r io.Reader, size int64) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key("content", project, path)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("storing content: %w", err)
	}
	return nil
}

func (c *s3Conn) Download(ctx context.Context, project, path string, w io.Writer) error {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key("content", project, path)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("content not found: %s/%s", project, path)
		}
		return fmt.Errorf("fetching content: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	return nil
}

func (c *s3Conn) Delete(ctx context.Context, project, path string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key("content", project, path)),
	})
	if err != nil {
		return fmt.Errorf("deleting content: %w", err)
	}
	return nil
}

func (c *s3Conn) ListFiles(ctx context.Context, project string) ([]string, error) {
	cp := c.key("content", project) + "/"
	var files []string
	pag := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(cp),
	})
	for pag.HasMorePages() {
		page, err := pag.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing device files: %w", err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), cp)
			if rel != "" {
				files = append(files, rel)
			}
		}
	}
	return files, nil
}

func (c *s3Conn) ReadLog(ctx context.Context) ([]index.Entry, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key("index.log")),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching device log: %w", err)
	}
	defer out.Body.Close()

	entries, err := index.DecodeFragment(out.Body)
	if err != nil {
		return nil, &index.CorruptionError{StorageID: c.name, Err: err}
	}
	return entries, nil
}

func (c *s3Conn) WriteLog(ctx context.Context, entries []index.Entry) error {
	var buf bytes.Buffer
	if err := index.EncodeFragment(&buf, entries); err != nil {
		return fmt.Errorf("encoding device log: %w", err)
	}
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key("index.log")),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("storing device log: %w", err)
	}
	return nil
}

func (c *s3Conn) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
