package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"imessage-undeleter/internal/config"
	"imessage-undeleter/internal/tracker"
)

// Environment variables holding static S3 credentials. When unset the
// default AWS credential chain is used.
const (
	EnvS3AccessKeyID     = "UNDELETER_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "UNDELETER_S3_SECRET_ACCESS_KEY"
)

const s3OpTimeout = 60 * time.Second

// s3Client is the subset of the S3 API the vault uses.
type s3Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Vault stores objects in an S3 bucket (or an S3-compatible service)
// under an optional key prefix.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3Client
	uploader *manager.Uploader
}

// NewS3Vault builds a vault from configuration using the default AWS config
// chain. A custom endpoint switches to path-style addressing.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if id, secret := os.Getenv(EnvS3AccessKeyID), os.Getenv(EnvS3SecretAccessKey); id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, secret, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func newS3Vault(name, bucket, prefix string, client s3Client) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (v *S3Vault) objectKey(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if v.prefix == "" {
		return key, nil
	}
	return path.Join(v.prefix, key), nil
}

// Put uploads the object. Large bodies are sent as multipart uploads.
func (v *S3Vault) Put(key string, r io.Reader, size int64) error {
	objKey, err := v.objectKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	counter := &countingReader{r: r}
	if _, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(objKey),
		Body:        counter,
		ContentType: aws.String(contentType(objKey)),
	}); err != nil {
		return fmt.Errorf("uploading %s: %w", objKey, err)
	}
	if counter.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

// Get downloads the object into w.
func (v *S3Vault) Get(key string, w io.Writer) error {
	objKey, err := v.objectKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("downloading %s: %w", objKey, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", objKey, err)
	}
	return nil
}

// List returns vault keys (without the bucket prefix) that start with prefix.
func (v *S3Vault) List(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	full := prefix
	if v.prefix != "" {
		full = v.prefix + "/" + prefix
	}

	var keys []string
	p := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(full),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", full, err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if v.prefix != "" {
				k = strings.TrimPrefix(k, v.prefix+"/")
			}
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ tracker.Vault = (*S3Vault)(nil)
