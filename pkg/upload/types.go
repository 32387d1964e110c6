package upload

import (
	"errors"

	"github.com/ethpandaops/uploadoor/pkg/gateway"
)

// Target is where a run stores its objects. It does not change during a run.
type Target struct {
	Container string
	Prefix    string
}

// EntryKind distinguishes files from directories.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
)

func (k EntryKind) String() string {
	if k == KindDirectory {
		return "directory"
	}

	return "file"
}

// treeEntry is one local file or directory to upload.
type treeEntry struct {
	// localPath is the path on disk.
	localPath string

	// relativeName is the slash-separated path below the upload root's
	// parent, e.g. "logs/sub/x.log".
	relativeName string

	kind EntryKind
}

// RenderedEntry is the index row produced for an uploaded entry, to be
// placed in the parent directory's page.
type RenderedEntry struct {
	Kind     EntryKind
	Fragment string
}

// attempt identifies one try at storing an object.
type attempt struct {
	source string
	target string
	number int
}

// attemptOutcome is the result of one attempt: either a stored object or
// the reason it was not stored.
type attemptOutcome struct {
	object *gateway.Object
	err    error
}

func outcomeOf(obj *gateway.Object, err error) attemptOutcome {
	switch {
	case err != nil:
		return attemptOutcome{err: err}
	case obj == nil:
		return attemptOutcome{err: errNoDescriptor}
	default:
		return attemptOutcome{object: obj}
	}
}

func (o attemptOutcome) succeeded() bool {
	return o.err == nil
}

// permanent reports whether retrying cannot change the outcome.
func (o attemptOutcome) permanent() bool {
	return errors.Is(o.err, gateway.ErrPermanent) || errors.Is(o.err, ErrFileTooLarge)
}
