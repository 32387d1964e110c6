package manifest_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/ethpandaops/uploadoor/pkg/manifest"
)

func setupTestStore(t *testing.T) manifest.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := manifest.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_RecordAndListRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, &manifest.Entry{
		RunID:       "run-1",
		Container:   "XenLogs",
		ObjectName:  "p/logs/b.log",
		Source:      "/tmp/logs/b.log",
		Kind:        manifest.KindFile,
		Size:        12,
		Checksum:    "abc",
		ContentType: "text/plain",
		Attempts:    1,
		UploadedAt:  now,
	}))
	require.NoError(t, s.Record(ctx, &manifest.Entry{
		RunID:      "run-1",
		Container:  "XenLogs",
		ObjectName: "p/logs/a.log",
		Kind:       manifest.KindFile,
		UploadedAt: now,
	}))
	require.NoError(t, s.Record(ctx, &manifest.Entry{
		RunID:      "run-2",
		Container:  "XenLogs",
		ObjectName: "p/index.html",
		Kind:       manifest.KindIndex,
		UploadedAt: now.Add(time.Minute),
	}))

	entries, err := s.ListRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p/logs/a.log", entries[0].ObjectName)
	assert.Equal(t, "p/logs/b.log", entries[1].ObjectName)
	assert.Equal(t, "abc", entries[1].Checksum)
	assert.Equal(t, int64(12), entries[1].Size)

	ids, err := s.ListRunIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-2", "run-1"}, ids)
}

func TestStore_RecordReplacesSameObject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := &manifest.Entry{
		RunID:      "run-1",
		Container:  "XenLogs",
		ObjectName: "p/index.html",
		Kind:       manifest.KindIndex,
		Checksum:   "first",
		Attempts:   1,
		UploadedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Record(ctx, entry))

	require.NoError(t, s.Record(ctx, &manifest.Entry{
		RunID:      "run-1",
		Container:  "XenLogs",
		ObjectName: "p/index.html",
		Kind:       manifest.KindIndex,
		Checksum:   "second",
		Attempts:   3,
		UploadedAt: time.Now().UTC(),
	}))

	entries, err := s.ListRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Checksum)
	assert.Equal(t, 3, entries[0].Attempts)
}

func TestStore_ListUnknownRun(t *testing.T) {
	s := setupTestStore(t)

	entries, err := s.ListRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := manifest.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
	require.NoError(t, s.Stop())
}
