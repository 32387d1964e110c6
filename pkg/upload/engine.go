// Package upload walks local directory trees and stores them in an object
// storage container, writing an index.html page for every directory.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/uploadoor/pkg/classify"
	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/ethpandaops/uploadoor/pkg/gateway"
	"github.com/ethpandaops/uploadoor/pkg/index"
	"github.com/ethpandaops/uploadoor/pkg/manifest"
	"github.com/ethpandaops/uploadoor/pkg/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RunIDLayout formats generated run IDs.
const RunIDLayout = "20060102T150405Z"

// Recorder receives an entry for every stored object.
type Recorder interface {
	Record(ctx context.Context, e *manifest.Entry) error
}

// Options tunes an Engine.
type Options struct {
	// Concurrency bounds parallel sibling uploads per directory and
	// in-flight gateway calls overall. 1 uploads strictly sequentially.
	Concurrency int

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the wait before the first retry. Zero retries
	// immediately.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// UploadsPerSecond limits gateway uploads. Zero disables the limit.
	UploadsPerSecond float64
	Burst            int

	// MaxFileSize rejects larger files without retrying. Zero disables it.
	MaxFileSize int64

	// Recorder is optional.
	Recorder Recorder

	// RunID tags recorded entries. Generated from the start time if empty.
	RunID string
}

// DefaultOptions returns sequential uploads with five retries and no
// backoff.
func DefaultOptions() Options {
	return Options{
		Concurrency: config.DefaultConcurrency,
		MaxRetries:  config.DefaultMaxRetries,
		Multiplier:  config.DefaultBackoffMultiplier,
	}
}

// OptionsFromConfig builds Options from the upload section of the config.
func OptionsFromConfig(cfg *config.UploadConfig) (Options, error) {
	maxSize, err := cfg.MaxFileSizeBytes()
	if err != nil {
		return Options{}, err
	}

	return Options{
		Concurrency:      cfg.Concurrency,
		MaxRetries:       cfg.MaxRetries,
		InitialDelay:     cfg.Backoff.InitialDelay,
		MaxDelay:         cfg.Backoff.MaxDelay,
		Multiplier:       cfg.Backoff.Multiplier,
		UploadsPerSecond: cfg.RateLimit.UploadsPerSecond,
		Burst:            cfg.RateLimit.Burst,
		MaxFileSize:      maxSize,
	}, nil
}

// Engine uploads directory trees through a gateway.
type Engine struct {
	log     logrus.FieldLogger
	gw      gateway.Gateway
	opts    Options
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewEngine creates an Engine storing objects through gw.
func NewEngine(log logrus.FieldLogger, gw gateway.Gateway, opts Options) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	if opts.Multiplier <= 0 {
		opts.Multiplier = config.DefaultBackoffMultiplier
	}

	e := &Engine{
		log:  log.WithField("component", "upload"),
		gw:   gw,
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.Concurrency)),
	}

	if opts.UploadsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}

		e.limiter = rate.NewLimiter(rate.Limit(opts.UploadsPerSecond), burst)
	}

	return e
}

// run holds the state of one Upload call.
type run struct {
	*Engine

	target Target
	runID  string

	files   atomic.Int64
	indexes atomic.Int64
	bytes   atomic.Int64
}

// Upload stores every root below prefix in the named container, creating
// the container if needed, and writes prefix/index.html listing the roots.
// Missing or inaccessible roots are skipped. The first object that cannot be stored ends
// the run with an *Error.
func (e *Engine) Upload(ctx context.Context, container string, roots []string, prefix string) error {
	start := time.Now()

	if err := e.resolveContainer(ctx, container); err != nil {
		return fmt.Errorf("resolving container %q: %w", container, err)
	}

	r := &run{
		Engine: e,
		target: Target{Container: container, Prefix: prefix},
		runID:  e.opts.RunID,
	}

	if r.runID == "" {
		r.runID = start.UTC().Format(RunIDLayout)
	}

	ordered := slices.Clone(roots)
	OrderNames(ordered)

	page := index.NewPage(prefix)

	for _, root := range ordered {
		root = trimSeparators(root)

		info, err := os.Stat(root)
		if err != nil {
			log := e.log.WithField("path", root)
			if errors.Is(err, fs.ErrNotExist) {
				log.Warn("File does not exist, skipping")
			} else {
				log.WithError(err).Warn("File is not accessible, skipping")
			}

			continue
		}

		entry := treeEntry{
			localPath:    root,
			relativeName: rootName(root),
			kind:         KindFile,
		}

		if info.IsDir() {
			entry.kind = KindDirectory
		}

		rendered, err := r.uploadEntry(ctx, entry)
		if err != nil {
			return err
		}

		page.Add(rendered.Fragment)
	}

	// The top-level page has no local source.
	if err := r.storeIndex(ctx, "", page); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"container": container,
		"prefix":    prefix,
		"run_id":    r.runID,
		"files":     r.files.Load(),
		"indexes":   r.indexes.Load(),
		"bytes":     units.BytesSize(float64(r.bytes.Load())),
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("Upload complete")

	return nil
}

// resolveContainer creates the container unless it already exists.
func (e *Engine) resolveContainer(ctx context.Context, name string) error {
	containers, err := e.gw.ListContainers(ctx)
	if err != nil {
		return fmt.Errorf("listing containers: %w", err)
	}

	for _, c := range containers {
		if c.Name == name {
			e.log.WithField("container", name).Debug("Using existing container")

			return nil
		}
	}

	if err := e.gw.CreateContainer(ctx, name); err != nil {
		return fmt.Errorf("creating container: %w", err)
	}

	e.log.WithField("container", name).Info("Created container")

	return nil
}

func (r *run) uploadEntry(ctx context.Context, entry treeEntry) (RenderedEntry, error) {
	if entry.kind == KindDirectory {
		return r.uploadDir(ctx, entry)
	}

	return r.uploadFile(ctx, entry)
}

// uploadDir uploads the children of a directory, then its index page.
func (r *run) uploadDir(ctx context.Context, dir treeEntry) (RenderedEntry, error) {
	dirPrefix := joinKey(r.target.Prefix, dir.relativeName)

	children, err := r.listChildren(dir)
	if err != nil {
		return RenderedEntry{}, err
	}

	fragments := make([]string, len(children))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for i, child := range children {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			rendered, err := r.uploadEntry(gctx, child)
			if err != nil {
				return err
			}

			fragments[i] = rendered.Fragment

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return RenderedEntry{}, err
	}

	if err := ctx.Err(); err != nil {
		return RenderedEntry{}, err
	}

	page := index.NewPage(dirPrefix)
	page.Add(index.DirRow(parentLocation(r.target.Prefix, dir.relativeName), index.ParentDirName))

	for _, fragment := range fragments {
		page.Add(fragment)
	}

	if err := r.storeIndex(ctx, dir.localPath, page); err != nil {
		return RenderedEntry{}, err
	}

	name := path.Base(dir.relativeName)

	return RenderedEntry{Kind: KindDirectory, Fragment: index.DirRow(name, name)}, nil
}

// listChildren returns the uploadable entries of dir in listing order.
// Symlinks and irregular files are left out.
func (r *run) listChildren(dir treeEntry) ([]treeEntry, error) {
	dirEntries, err := os.ReadDir(dir.localPath)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir.localPath, err)
	}

	byName := make(map[string]fs.DirEntry, len(dirEntries))
	names := make([]string, 0, len(dirEntries))

	for _, d := range dirEntries {
		byName[d.Name()] = d
		names = append(names, d.Name())
	}

	OrderNames(names)

	children := make([]treeEntry, 0, len(names))

	for _, name := range names {
		d := byName[name]
		localPath := filepath.Join(dir.localPath, name)

		child := treeEntry{
			localPath:    localPath,
			relativeName: path.Join(dir.relativeName, name),
		}

		switch mode := d.Type(); {
		case mode&fs.ModeSymlink != 0:
			r.log.WithField("path", localPath).Debug("Skipping symlink")

			continue
		case d.IsDir():
			child.kind = KindDirectory
		case mode.IsRegular():
			child.kind = KindFile
		default:
			r.log.WithFields(logrus.Fields{
				"path": localPath,
				"mode": mode.String(),
			}).Warn("Skipping irregular file")

			continue
		}

		children = append(children, child)
	}

	return children, nil
}

// uploadFile stores one file and renders its row.
func (r *run) uploadFile(ctx context.Context, file treeEntry) (RenderedEntry, error) {
	target := joinKey(r.target.Prefix, file.relativeName)
	opts := gateway.PutOptions{
		ContentType:     classify.ContentType(file.localPath),
		ContentEncoding: classify.Encoding(file.localPath),
	}

	r.log.WithFields(logrus.Fields{
		"source":   file.localPath,
		"target":   target,
		"encoding": opts.ContentEncoding,
		"type":     opts.ContentType,
	}).Info("Uploading file")

	load := func() ([]byte, error) {
		if r.opts.MaxFileSize > 0 {
			info, err := os.Stat(file.localPath)
			if err != nil {
				return nil, err
			}

			if info.Size() > r.opts.MaxFileSize {
				return nil, fmt.Errorf("%w: %s is %s, limit %s", ErrFileTooLarge, file.localPath,
					units.BytesSize(float64(info.Size())), units.BytesSize(float64(r.opts.MaxFileSize)))
			}
		}

		return os.ReadFile(file.localPath)
	}

	if err := r.uploadWithRetry(ctx, file.localPath, target, load, opts, manifest.KindFile); err != nil {
		return RenderedEntry{}, err
	}

	r.files.Add(1)

	info, err := os.Stat(file.localPath)
	if err != nil {
		return RenderedEntry{}, fmt.Errorf("reading metadata of %s: %w", file.localPath, err)
	}

	row := index.FileRow(index.FileRecord{
		Name:            path.Base(file.relativeName),
		Modified:        info.ModTime(),
		Size:            info.Size(),
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
	})

	return RenderedEntry{Kind: KindFile, Fragment: row}, nil
}

// storeIndex uploads a finished page as <page prefix>/index.html.
func (r *run) storeIndex(ctx context.Context, source string, page *index.Page) error {
	target := joinKey(page.Prefix(), index.FileName)
	data := page.Bytes()

	load := func() ([]byte, error) {
		return data, nil
	}

	if err := r.uploadWithRetry(ctx, source, target, load, gateway.PutOptions{}, manifest.KindIndex); err != nil {
		return err
	}

	r.indexes.Add(1)

	r.log.WithField("prefix", page.Prefix()).Info("Added index page")

	return nil
}

// uploadWithRetry stores the data returned by load under target, calling
// load again for every attempt.
func (r *run) uploadWithRetry(
	ctx context.Context,
	source, target string,
	load func() ([]byte, error),
	opts gateway.PutOptions,
	kind string,
) error {
	var (
		tries    int
		stored   *gateway.Object
		size     int
		checksum string
	)

	err := retry.Do(ctx, func(ctx context.Context, n int) error {
		a := attempt{source: source, target: target, number: n}
		tries = n + 1

		data, err := load()
		if err != nil {
			return retry.Fatal(fmt.Errorf("reading %s: %w", source, err))
		}

		sum := sha256.Sum224(data)
		checksum = hex.EncodeToString(sum[:])
		size = len(data)

		r.log.WithFields(logrus.Fields{
			"target":   target,
			"attempt":  a.number,
			"checksum": checksum,
		}).Debug("Computed checksum")

		outcome := r.put(ctx, a, data, opts)
		if outcome.succeeded() {
			stored = outcome.object

			return nil
		}

		if outcome.permanent() {
			return retry.Fatal(outcome.err)
		}

		return outcome.err
	},
		retry.WithMaxRetries(r.opts.MaxRetries),
		retry.WithInitialDelay(r.opts.InitialDelay),
		retry.WithMaxDelay(r.opts.MaxDelay),
		retry.WithMultiplier(r.opts.Multiplier),
		retry.WithOnRetry(func(n int, err error) {
			r.log.WithError(err).WithFields(logrus.Fields{
				"source":  source,
				"target":  target,
				"attempt": n,
			}).Warn("Upload failed - retrying")
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}

		uerr := &Error{Source: source, Target: target, Attempts: tries, Err: err}
		r.log.WithError(err).WithFields(logrus.Fields{
			"source":   source,
			"target":   target,
			"attempts": tries,
		}).Error("Upload failed")

		return uerr
	}

	r.bytes.Add(int64(size))
	r.record(ctx, &manifest.Entry{
		RunID:           r.runID,
		Container:       r.target.Container,
		ObjectName:      target,
		Source:          source,
		Kind:            kind,
		Size:            int64(size),
		Checksum:        checksum,
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
		ETag:            stored.ETag,
		Attempts:        tries,
		UploadedAt:      time.Now().UTC(),
	})

	return nil
}

// put performs a single gateway upload, waiting for the rate limiter and a
// concurrency slot first.
func (r *run) put(ctx context.Context, a attempt, data []byte, opts gateway.PutOptions) attemptOutcome {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return attemptOutcome{err: err}
		}
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return attemptOutcome{err: err}
	}
	defer r.sem.Release(1)

	return outcomeOf(r.gw.UploadObject(ctx, r.target.Container, a.target, data, opts))
}

func (r *run) record(ctx context.Context, entry *manifest.Entry) {
	if r.opts.Recorder == nil {
		return
	}

	if err := r.opts.Recorder.Record(ctx, entry); err != nil {
		r.log.WithError(err).WithField("target", entry.ObjectName).Warn("Failed to record manifest entry")
	}
}

// joinKey joins object name parts with forward slashes, ignoring empty
// parts and surrounding slashes.
func joinKey(parts ...string) string {
	kept := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" && p != "." {
			kept = append(kept, p)
		}
	}

	return strings.Join(kept, "/")
}

// parentLocation is the absolute location of the page one level above
// relativeName. The container root is "".
func parentLocation(prefix, relativeName string) string {
	parent := path.Dir(relativeName)
	if parent == "." {
		parent = ""
	}

	key := joinKey(prefix, parent)
	if key == "" {
		return ""
	}

	return "/" + key
}

// trimSeparators strips trailing path separators, keeping a bare root.
func trimSeparators(p string) string {
	trimmed := strings.TrimRight(p, string(filepath.Separator)+"/")
	if trimmed == "" {
		return p
	}

	return trimmed
}

// rootName is the name a root is uploaded under: its base name, resolved
// to an absolute path first for "." and "..".
func rootName(root string) string {
	name := filepath.Base(root)
	if name != "." && name != ".." {
		return name
	}

	if abs, err := filepath.Abs(root); err == nil {
		return filepath.Base(abs)
	}

	return name
}
