// Package gateway abstracts the object storage backend the uploader writes
// to: container lookup/creation and object upload.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// ErrPermanent marks backend failures that retrying cannot fix, such as
// rejected credentials or a missing container.
var ErrPermanent = errors.New("permanent storage failure")

// Container is a named top-level namespace, e.g. an S3 bucket.
type Container struct {
	Name string
}

// Object describes a stored object.
type Object struct {
	Container string
	Name      string
	ETag      string
	Size      int64
}

// PutOptions carries the optional HTTP metadata of an object.
type PutOptions struct {
	ContentType     string
	ContentEncoding string
}

// Gateway stores objects in containers of an object storage backend.
type Gateway interface {
	// ListContainers returns all containers visible to the credentials.
	ListContainers(ctx context.Context) ([]Container, error)

	// CreateContainer creates the named container.
	CreateContainer(ctx context.Context, name string) error

	// UploadObject stores data under name. A nil Object with a nil error
	// also signals that the object was not stored.
	UploadObject(
		ctx context.Context, container, name string, data []byte, opts PutOptions,
	) (*Object, error)

	// Close releases connection resources.
	Close() error
}

// New creates the Gateway selected by cfg.Backend.
func New(log logrus.FieldLogger, cfg *config.StorageConfig) (Gateway, error) {
	switch cfg.Backend {
	case config.BackendS3:
		return NewS3Gateway(log, &cfg.S3)
	case config.BackendMinio:
		return NewMinioGateway(log, &cfg.Minio)
	case config.BackendLocal:
		return NewLocalGateway(log, &cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// permanent wraps err with ErrPermanent.
func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
