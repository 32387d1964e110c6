package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// s3API is the subset of the S3 client used by the gateway.
type s3API interface {
	ListBuckets(
		ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options),
	) (*s3.ListBucketsOutput, error)
	CreateBucket(
		ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options),
	) (*s3.CreateBucketOutput, error)
	PutObject(
		ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

// s3Gateway implements Gateway for S3-compatible storage.
type s3Gateway struct {
	log    logrus.FieldLogger
	region string
	client s3API
}

// Ensure interface compliance.
var _ Gateway = (*s3Gateway)(nil)

// NewS3Gateway creates an S3 gateway. Static credentials are used when
// configured, otherwise the default AWS credential chain applies. Retries
// are left to the upload engine.
func NewS3Gateway(log logrus.FieldLogger, cfg *config.S3Config) (Gateway, error) {
	region := cfg.Region
	if region == "" {
		region = config.DefaultS3Region
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		o.UsePathStyle = cfg.ForcePathStyle
		o.Retryer = aws.NopRetryer{}
	})

	return newS3Gateway(log, region, client), nil
}

func newS3Gateway(log logrus.FieldLogger, region string, client s3API) *s3Gateway {
	return &s3Gateway{
		log:    log.WithField("component", "s3-gateway"),
		region: region,
		client: client,
	}
}

// ListContainers lists all buckets.
func (g *s3Gateway) ListContainers(ctx context.Context) ([]Container, error) {
	var containers []Container

	paginator := s3.NewListBucketsPaginator(g.client, &s3.ListBucketsInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing buckets: %w", classifyS3Error(err))
		}

		for _, b := range page.Buckets {
			if b.Name != nil {
				containers = append(containers, Container{Name: *b.Name})
			}
		}
	}

	return containers, nil
}

// CreateContainer creates a bucket. A bucket we already own is not an error.
func (g *s3Gateway) CreateContainer(ctx context.Context, name string) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(name),
	}

	if g.region != "" && g.region != config.DefaultS3Region {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(g.region),
		}
	}

	if _, err := g.client.CreateBucket(ctx, input); err != nil {
		if isBucketAlreadyOwnedByYou(err) {
			return nil
		}

		return fmt.Errorf("creating bucket %s: %w", name, classifyS3Error(err))
	}

	g.log.WithField("bucket", name).Info("Created bucket")

	return nil
}

// UploadObject stores data under name with the given metadata.
func (g *s3Gateway) UploadObject(
	ctx context.Context, container, name string, data []byte, opts PutOptions,
) (*Object, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}

	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}

	out, err := g.client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("PutObject %s/%s: %w", container, name, classifyS3Error(err))
	}

	if out == nil {
		return nil, nil
	}

	return &Object{
		Container: container,
		Name:      name,
		ETag:      aws.ToString(out.ETag),
		Size:      int64(len(data)),
	}, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (g *s3Gateway) Close() error {
	return nil
}

// permanentS3Codes are API error codes that retrying cannot fix.
var permanentS3Codes = map[string]struct{}{
	"AccessDenied":          {},
	"AccountProblem":        {},
	"AllAccessDisabled":     {},
	"InvalidAccessKeyId":    {},
	"InvalidBucketName":     {},
	"NoSuchBucket":          {},
	"SignatureDoesNotMatch": {},
}

// classifyS3Error wraps permanent failures with ErrPermanent.
func classifyS3Error(err error) error {
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsb) {
		return permanent(err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := permanentS3Codes[apiErr.ErrorCode()]; ok {
			return permanent(err)
		}
	}

	return err
}

// isBucketAlreadyOwnedByYou checks if the error indicates the bucket exists
// and is owned by us.
func isBucketAlreadyOwnedByYou(err error) bool {
	var baoby *s3types.BucketAlreadyOwnedByYou
	if errors.As(err, &baoby) {
		return true
	}

	// Some S3-compatible services do not return the typed error.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
	}

	return false
}
