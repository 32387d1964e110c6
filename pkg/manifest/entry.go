package manifest

import "time"

// Entry kinds.
const (
	KindFile  = "file"
	KindIndex = "index"
)

// Entry records one object stored during an upload run.
type Entry struct {
	ID              uint   `gorm:"primaryKey"`
	RunID           string `gorm:"not null;uniqueIndex:idx_entries_run_object"`
	Container       string `gorm:"not null;uniqueIndex:idx_entries_run_object"`
	ObjectName      string `gorm:"not null;uniqueIndex:idx_entries_run_object"`
	Source          string
	Kind            string `gorm:"index"`
	Size            int64
	Checksum        string
	ContentType     string
	ContentEncoding string
	ETag            string
	Attempts        int
	UploadedAt      time.Time
}
