package catalog

import "time"

// Table names for the two catalogs.
const (
	AvailableTable  = "available"
	DownloadedTable = "downloaded"
)

// AvailableBook is a catalog entry that can be downloaded.
type AvailableBook struct {
	ID         int64  `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	Author     string `json:"author" yaml:"author"`
	URL        string `json:"url" yaml:"url"`
	Downloaded bool   `json:"downloaded" yaml:"downloaded"`
}

// DownloadedBook is a book whose content is stored locally, along with the
// reader's progress through it. Its ID is the ID of the matching AvailableBook.
type DownloadedBook struct {
	ID       int64     `json:"id" yaml:"id"`
	Title    string    `json:"title" yaml:"title"`
	Author   string    `json:"author" yaml:"author"`
	URL      string    `json:"url" yaml:"url"`
	Position int       `json:"position" yaml:"position"`
	Path     string    `json:"path" yaml:"path"`
	LastRead time.Time `json:"last_read" yaml:"last_read"`
	Size     int64     `json:"size" yaml:"size"`
	Checksum string    `json:"checksum" yaml:"checksum"`
}

// Snapshot is the full state of both catalogs, used for export.
type Snapshot struct {
	Available  []*AvailableBook  `json:"available" yaml:"available"`
	Downloaded []*DownloadedBook `json:"downloaded" yaml:"downloaded"`
}
