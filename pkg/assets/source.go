package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/xaionaro-go/qualityscore/pkg/config"
)

// Source provides the raw bytes of named assets. Fetch returns an error
// wrapping os.ErrNotExist if there is no such asset.
type Source interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
	String() string
}

func NewSource(cfg config.Assets) (Source, error) {
	switch cfg.Source {
	case "", "local":
		return &LocalSource{Dir: cfg.Dir}, nil
	case "s3":
		return NewS3Source(newS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown asset source '%s'", cfg.Source)
	}
}

type LocalSource struct {
	Dir string
}

func (s *LocalSource) Fetch(_ context.Context, name string) ([]byte, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid asset name '%s'", name)
	}
	return os.ReadFile(filepath.Join(s.Dir, name))
}

func (s *LocalSource) String() string {
	return "dir:" + s.Dir
}

// S3Client is the subset of the S3 API used by S3Source; *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Source struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3Source(client S3Client, bucket, prefix string) *S3Source {
	return &S3Source{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Source) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Source) Fetch(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key(name), os.ErrNotExist)
		}
		return nil, fmt.Errorf("unable to get s3://%s/%s: %w", s.bucket, s.key(name), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read s3://%s/%s: %w", s.bucket, s.key(name), err)
	}
	return data, nil
}

func (s *S3Source) String() string {
	return "s3://" + s.bucket + "/" + s.prefix
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// newS3Client builds a client from the static settings; absent keys are
// taken from the standard AWS environment variables.
func newS3Client(cfg config.S3) *s3.Client {
	accessKey, secretKey := cfg.AccessKeyID, cfg.SecretAccessKey
	if accessKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if accessKey != "" {
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     accessKey,
				SecretAccessKey: secretKey,
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "qualityscore",
			}, nil
		}))
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}
