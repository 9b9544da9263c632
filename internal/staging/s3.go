package staging

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sparkify/pkg/errors"
)

// S3Options configures the S3 client. Empty credentials fall back to the
// default AWS credential chain.
type S3Options struct {
	Region          string
	Endpoint        string // S3-compatible endpoint, e.g. a local MinIO
	AccessKeyID     string
	SecretAccessKey string
}

type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the objects under an s3://bucket/prefix location
type S3Source struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Source creates a source for an s3:// location
func NewS3Source(ctx context.Context, location string, opts S3Options) (*S3Source, error) {
	bucket, prefix, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}
	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &S3Source{client: client, bucket: bucket, prefix: prefix}, nil
}

func newS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	region := opts.Region
	if region == "" {
		region = "us-west-2"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to create AWS config")
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			endpoint := opts.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "http://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func parseS3Location(location string) (bucket, prefix string, err error) {
	path := strings.TrimPrefix(location, "s3://")
	bucket, prefix, _ = strings.Cut(path, "/")
	if bucket == "" {
		return "", "", errors.New(errors.ErrCodeConfigInvalid, "S3 location has no bucket").
			WithContext("location", location)
	}
	return bucket, prefix, nil
}

func (s *S3Source) Location() string { return "s3://" + s.bucket + "/" + s.prefix }

// List pages through every object under the prefix. As with COPY, the prefix
// need not end at a path separator.
func (s *S3Source) List(ctx context.Context) ([]Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.wrapError(err, "Failed to list objects", s.prefix)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !isJSON(*obj.Key) {
				continue
			}
			objects = append(objects, Object{Key: *obj.Key, Size: aws.ToInt64(obj.Size)})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *S3Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError(err, "Failed to fetch object", key)
	}
	return out.Body, nil
}

func (s *S3Source) wrapError(err error, message, key string) error {
	code := errors.ErrCodeSourceNotFound
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "accessdenied") || strings.Contains(lower, "forbidden") {
		code = errors.ErrCodeSourceAccessDenied
	}
	return errors.Wrap(err, code, message).
		WithContext("bucket", s.bucket).
		WithContext("key", key)
}
