package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// minioGateway implements Gateway on top of minio-go.
type minioGateway struct {
	log    logrus.FieldLogger
	region string
	client *minio.Client
}

// Ensure interface compliance.
var _ Gateway = (*minioGateway)(nil)

// NewMinioGateway creates a gateway for a MinIO or other S3-compatible
// server. The endpoint may be given as host:port or as a URL, in which case
// the scheme decides whether TLS is used.
func NewMinioGateway(log logrus.FieldLogger, cfg *config.MinioConfig) (Gateway, error) {
	endpoint, secure, err := parseMinioEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &minioGateway{
		log:    log.WithField("component", "minio-gateway"),
		region: cfg.Region,
		client: client,
	}, nil
}

// parseMinioEndpoint strips an optional scheme from endpoint.
func parseMinioEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("minio endpoint is required")
	}

	if !strings.Contains(endpoint, "://") {
		return endpoint, useSSL, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parsing minio endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported minio endpoint scheme %q", u.Scheme)
	}
}

// ListContainers lists all buckets.
func (g *minioGateway) ListContainers(ctx context.Context) ([]Container, error) {
	buckets, err := g.client.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", classifyMinioError(err))
	}

	containers := make([]Container, 0, len(buckets))
	for _, b := range buckets {
		containers = append(containers, Container{Name: b.Name})
	}

	return containers, nil
}

// CreateContainer creates a bucket. A bucket we already own is not an error.
func (g *minioGateway) CreateContainer(ctx context.Context, name string) error {
	err := g.client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: g.region})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}

		return fmt.Errorf("creating bucket %s: %w", name, classifyMinioError(err))
	}

	g.log.WithField("bucket", name).Info("Created bucket")

	return nil
}

// UploadObject stores data under name with the given metadata.
func (g *minioGateway) UploadObject(
	ctx context.Context, container, name string, data []byte, opts PutOptions,
) (*Object, error) {
	info, err := g.client.PutObject(
		ctx, container, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:     opts.ContentType,
			ContentEncoding: opts.ContentEncoding,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("PutObject %s/%s: %w", container, name, classifyMinioError(err))
	}

	return &Object{
		Container: container,
		Name:      name,
		ETag:      info.ETag,
		Size:      info.Size,
	}, nil
}

// Close is a no-op; minio-go clients have nothing to release.
func (g *minioGateway) Close() error {
	return nil
}

// classifyMinioError wraps permanent failures with ErrPermanent.
func classifyMinioError(err error) error {
	if _, ok := permanentS3Codes[minio.ToErrorResponse(err).Code]; ok {
		return permanent(err)
	}

	return err
}
