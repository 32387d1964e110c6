// Package fsutil creates directories and files with a configured owner.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Owner holds a parsed UID/GID for file ownership.
type Owner struct {
	UID int
	GID int
}

// ParseOwner parses a "UID:GID" string. Returns nil if empty.
func ParseOwner(owner string) (*Owner, error) {
	if owner == "" {
		return nil, nil
	}

	uidStr, gidStr, ok := strings.Cut(owner, ":")
	if !ok || strings.Contains(gidStr, ":") {
		return nil, fmt.Errorf("invalid owner %q, expected UID:GID", owner)
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UID %q: %w", uidStr, err)
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid GID %q: %w", gidStr, err)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

func (o *Owner) String() string {
	if o == nil {
		return ""
	}

	return fmt.Sprintf("%d:%d", o.UID, o.GID)
}

// Chown sets the ownership of path. A nil owner leaves it unchanged.
func (o *Owner) Chown(path string) error {
	if o == nil {
		return nil
	}

	if err := os.Chown(path, o.UID, o.GID); err != nil {
		return fmt.Errorf("chown %s to %s: %w", path, o, err)
	}

	return nil
}

// MkdirAll creates path and any missing parents, giving every directory it
// created to owner.
func MkdirAll(path string, perm os.FileMode, owner *Owner) error {
	var missing []string

	for dir := filepath.Clean(path); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		missing = append(missing, dir)

		if filepath.Dir(dir) == dir {
			break
		}
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	for _, dir := range missing {
		if err := owner.Chown(dir); err != nil {
			return err
		}
	}

	return nil
}
