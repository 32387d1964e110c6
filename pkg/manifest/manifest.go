// Package manifest keeps an audit record of every object an upload run
// stored, including the SHA-224 checksum of its content.
package manifest

import (
	"context"
	"fmt"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store persists manifest entries.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Record inserts an entry, replacing an earlier entry for the same
	// run, container and object name.
	Record(ctx context.Context, e *Entry) error

	// ListRun returns the entries of a run ordered by object name.
	ListRun(ctx context.Context, runID string) ([]Entry, error)

	// ListRunIDs returns the distinct run IDs, most recent first.
	ListRunIDs(ctx context.Context) ([]string, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a manifest Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "manifest"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening manifest database: %w", err)
	}

	// SQLite allows a single writer; this also keeps ":memory:" databases
	// on one connection.
	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("running manifest migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Manifest database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Record upserts an entry keyed by run_id + container + object_name.
func (s *store) Record(ctx context.Context, e *Entry) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "run_id"}, {Name: "container"}, {Name: "object_name"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"source", "kind", "size", "checksum", "content_type",
				"content_encoding", "e_tag", "attempts", "uploaded_at",
			}),
		}).
		Create(e)
	if result.Error != nil {
		return fmt.Errorf("recording %s: %w", e.ObjectName, result.Error)
	}

	return nil
}

// ListRun returns the entries of a run ordered by object name.
func (s *store) ListRun(ctx context.Context, runID string) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("object_name ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing run %s: %w", runID, err)
	}

	return entries, nil
}

// ListRunIDs returns the distinct run IDs, most recent first.
func (s *store) ListRunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Select("run_id").
		Group("run_id").
		Order("MAX(uploaded_at) DESC").
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing run ids: %w", err)
	}

	return ids, nil
}
