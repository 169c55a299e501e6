package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	aws_s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/premium-server/s3"
)

type Config struct {
	// Endpoint overrides the AWS endpoint, e.g. for LocalStack. Setting it
	// also switches the client to path-style addressing.
	Endpoint string

	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// AWSStore is the AWS S3 implementation of the s3.Store interface.
type AWSStore struct {
	log    *zap.Logger
	client *aws_s3.Client
	bucket string
}

func NewAWSStore(log *zap.Logger, cfg Config) (*AWSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("region is required")
	}

	awsCfg := aws.Config{
		Region: cfg.Region,
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	client := aws_s3.NewFromConfig(awsCfg, func(o *aws_s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &AWSStore{
		log:    log,
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (a *AWSStore) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &aws_s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = a.client.CreateBucket(ctx, &aws_s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return pkgerrors.Wrap(err, "failed to create bucket")
	}
	return nil
}

func (a *AWSStore) Upload(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if data == nil {
		return fmt.Errorf("data cannot be nil")
	}

	_, err := a.client.PutObject(ctx, &aws_s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to upload object to S3")
	}

	a.log.Debug("Uploaded object", zap.String("bucket", a.bucket), zap.String("key", key))
	return nil
}

func (a *AWSStore) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}

	output, err := a.client.GetObject(ctx, &aws_s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, s3.ErrNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to download object from S3")
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read object data")
	}
	return data, nil
}
