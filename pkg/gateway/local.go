package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/ethpandaops/uploadoor/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

// ErrInvalidName is returned for container or object names that would
// escape the storage directory.
var ErrInvalidName = errors.New("invalid name")

// localGateway stores each container as a directory and each object as a
// file below it. Object keys map "/" to directories.
type localGateway struct {
	log   logrus.FieldLogger
	dir   string
	owner *fsutil.Owner
}

// Ensure interface compliance.
var _ Gateway = (*localGateway)(nil)

// NewLocalGateway creates a gateway rooted at cfg.Dir.
func NewLocalGateway(log logrus.FieldLogger, cfg *config.LocalStorageConfig) (Gateway, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("local storage directory is required")
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving local storage directory: %w", err)
	}

	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing storage.local.owner: %w", err)
	}

	return &localGateway{
		log:   log.WithField("component", "local-gateway"),
		dir:   dir,
		owner: owner,
	}, nil
}

// ListContainers lists the container directories. A missing storage
// directory has no containers.
func (g *localGateway) ListContainers(_ context.Context) ([]Container, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("listing %s: %w", g.dir, err)
	}

	var containers []Container

	for _, e := range entries {
		if e.IsDir() {
			containers = append(containers, Container{Name: e.Name()})
		}
	}

	return containers, nil
}

// CreateContainer creates the container directory.
func (g *localGateway) CreateContainer(_ context.Context, name string) error {
	if err := validateContainerName(name); err != nil {
		return permanent(err)
	}

	if err := fsutil.MkdirAll(filepath.Join(g.dir, name), 0o755, g.owner); err != nil {
		return fmt.Errorf("creating container %s: %w", name, err)
	}

	g.log.WithField("container", name).Info("Created container")

	return nil
}

// UploadObject writes data to the object's file, replacing it atomically.
func (g *localGateway) UploadObject(
	_ context.Context, container, name string, data []byte, _ PutOptions,
) (*Object, error) {
	target, err := LocalPath(g.dir, container, name)
	if err != nil {
		return nil, permanent(err)
	}

	if _, err := os.Stat(filepath.Join(g.dir, container)); err != nil {
		return nil, permanent(fmt.Errorf("container %s: %w", container, err))
	}

	if err := fsutil.MkdirAll(filepath.Dir(target), 0o755, g.owner); err != nil {
		return nil, fmt.Errorf("creating parent of %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file for %s: %w", name, err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return nil, fmt.Errorf("writing %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing %s: %w", name, err)
	}

	// Temp files are created 0600; objects must be readable by web servers.
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return nil, fmt.Errorf("setting mode of %s: %w", name, err)
	}

	if err := g.owner.Chown(tmp.Name()); err != nil {
		return nil, permanent(err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("renaming %s: %w", name, err)
	}

	return &Object{
		Container: container,
		Name:      name,
		Size:      int64(len(data)),
	}, nil
}

// Close is a no-op for the local gateway.
func (g *localGateway) Close() error {
	return nil
}

// LocalPath resolves the file backing object name of container below dir.
// Names that would leave the container directory are rejected.
func LocalPath(dir, container, name string) (string, error) {
	if err := validateContainerName(container); err != nil {
		return "", err
	}

	clean := path.Clean("/" + name)
	if clean == "/" || strings.HasSuffix(name, "/") {
		return "", fmt.Errorf("%w: object %q", ErrInvalidName, name)
	}

	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: object %q", ErrInvalidName, name)
		}
	}

	return filepath.Join(dir, container, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func validateContainerName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: container %q", ErrInvalidName, name)
	}

	return nil
}
