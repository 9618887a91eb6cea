package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures an S3 or S3-compatible sink.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	// Static credentials; empty means the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3 uploads artifacts with the S3 multipart upload manager.
func NewS3(ctx context.Context, opts S3Options) (Sink, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client)

	return &objectSink{
		kind:   "s3",
		prefix: opts.Prefix,
		put: func(ctx context.Context, key, contentType string, data []byte) error {
			_, err := uploader.Upload(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(opts.Bucket),
				Key:         aws.String(key),
				Body:        bytes.NewReader(data),
				ContentType: aws.String(contentType),
			})
			return err
		},
		location: func(key string) string { return "s3://" + opts.Bucket + "/" + key },
	}, nil
}
