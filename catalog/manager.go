package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Options configures a Manager.
type Options struct {
	DBPath     string
	LibraryDir string
	// CatalogFile overrides the bundled catalog used to seed a new database.
	CatalogFile string
	Logger      zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager is a thin façade over the Database and FileStore, keeping CLI code
// simple. It owns the rules that span both: a download writes a file and two
// rows, a removal deletes all three.
type Manager struct {
	db    *Database
	files *FileStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewManager opens (or creates) the catalog database and the book file store.
// A newly created database is seeded from the catalog file.
func NewManager(opts Options) (*Manager, error) {
	db, err := NewDatabase(opts.DBPath)
	if err != nil {
		return nil, err
	}
	files, err := NewFileStore(opts.LibraryDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := &Manager{db: db, files: files, log: opts.Logger, now: opts.Now}
	if m.now == nil {
		m.now = time.Now
	}

	if db.Created() {
		// A new or upgraded database has no downloaded rows, so any book
		// file left on disk belongs to a catalog that is gone.
		if err := m.clearFiles(); err != nil {
			db.Close()
			return nil, err
		}
		if _, err := m.Seed(opts.CatalogFile); err != nil {
			db.Close()
			return nil, err
		}
	}
	return m, nil
}

// Close closes the underlying database.
func (m *Manager) Close() error { return m.db.Close() }

// ------------------ Seeding ------------------

// Seed loads the catalog file (bundled when path is empty) into the available
// catalog and returns the number of books added.
func (m *Manager) Seed(path string) (int, error) {
	report, err := LoadCatalog(path)
	if err != nil {
		return 0, err
	}
	for _, s := range report.Skipped {
		m.log.Warn().Int("line", s.Line).Str("reason", s.Reason).Msg("skipping catalog line")
	}

	n, err := m.db.Seed(report.Books)
	if err != nil {
		return 0, fmt.Errorf("seed catalog: %w", err)
	}
	source := path
	if source == "" {
		source = "bundled"
	}
	m.log.Info().Str("source", source).Int("books", n).Int("skipped", len(report.Skipped)).Msg("seeded available catalog")
	return n, nil
}

// Reseed deletes every stored book file and catalog row, then seeds again.
func (m *Manager) Reseed(path string) (int, error) {
	if err := m.clearFiles(); err != nil {
		return 0, err
	}
	if err := m.db.Reset(); err != nil {
		return 0, err
	}
	return m.Seed(path)
}

func (m *Manager) clearFiles() error {
	n, err := m.files.Clear()
	if err != nil {
		return fmt.Errorf("clear book files: %w", err)
	}
	if n > 0 {
		m.log.Info().Int("files", n).Str("dir", m.files.Dir()).Msg("removed stale book files")
	}
	return nil
}

// ------------------ Catalog queries ------------------

func (m *Manager) Available(filter string) ([]*AvailableBook, error) {
	return m.db.AvailableBooks(filter)
}

func (m *Manager) Downloaded(filter string) ([]*DownloadedBook, error) {
	return m.db.DownloadedBooks(filter)
}

func (m *Manager) GetAvailable(id int64) (*AvailableBook, error)   { return m.db.GetAvailableBook(id) }
func (m *Manager) GetDownloaded(id int64) (*DownloadedBook, error) { return m.db.GetDownloadedBook(id) }

// LastRead returns the downloaded book read most recently.
func (m *Manager) LastRead() (*DownloadedBook, error) { return m.db.LastReadBook() }

// ------------------ Updates ------------------

func (m *Manager) UpdateAvailable(b *AvailableBook) error {
	return m.db.UpdateAvailableBook(b)
}

func (m *Manager) UpdateDownloaded(b *DownloadedBook) error {
	if b.Position < 0 {
		return ErrInvalidPosition
	}
	return m.db.UpdateDownloadedBook(b)
}

// RecordSession stores the position reached in a reading session and stamps
// the book as read now.
func (m *Manager) RecordSession(id int64, position int) error {
	if err := m.db.UpdateProgress(id, position, m.now()); err != nil {
		return err
	}
	m.log.Debug().Int64("id", id).Int("position", position).Msg("recorded reading session")
	return nil
}

// ------------------ Download / remove ------------------

// Download stores the content read from r as the local copy of available book
// id and moves the book into the downloaded catalog.
func (m *Manager) Download(id int64, r io.Reader) (*DownloadedBook, error) {
	avail, err := m.db.GetAvailableBook(id)
	if err != nil {
		return nil, err
	}
	if avail.Downloaded {
		return nil, fmt.Errorf("book %d: %w", id, ErrAlreadyDownloaded)
	}

	if _, err := m.db.GetDownloadedBook(id); err == nil {
		return nil, fmt.Errorf("book %d: %w", id, ErrAlreadyDownloaded)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	stored, err := m.files.Stage(id, r)
	if err != nil {
		return nil, err
	}
	// Only the staging file is ours until the row is recorded.
	defer func() {
		if derr := m.files.Discard(stored); derr != nil {
			m.log.Warn().Err(derr).Int64("id", id).Msg("could not remove staged book file")
		}
	}()

	b := &DownloadedBook{
		ID:       id,
		Path:     stored.Path,
		LastRead: m.now(),
		Size:     stored.Size,
		Checksum: stored.Checksum,
	}
	if err := m.db.RecordDownload(b); err != nil {
		return nil, err
	}
	if err := m.files.Commit(stored); err != nil {
		if ferr := m.db.ForgetDownload(id); ferr != nil {
			m.log.Error().Err(ferr).Int64("id", id).Msg("could not undo download record")
		}
		return nil, fmt.Errorf("store book %d: %w", id, err)
	}

	m.log.Info().Int64("id", id).Str("title", b.Title).Int64("bytes", b.Size).Msg("downloaded book")
	return b, nil
}

// DownloadFile is Download with the content taken from a local file.
func (m *Manager) DownloadFile(id int64, path string) (*DownloadedBook, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return m.Download(id, f)
}

// Remove deletes the local file of a downloaded book, then its row, and marks
// the available book as not downloaded again.
func (m *Manager) Remove(id int64) error {
	b, err := m.db.GetDownloadedBook(id)
	if err != nil {
		return err
	}
	if err := m.files.Remove(b.Path); err != nil {
		return fmt.Errorf("remove book file: %w", err)
	}
	if err := m.db.ForgetDownload(id); err != nil {
		return err
	}
	m.log.Info().Int64("id", id).Str("title", b.Title).Msg("removed book")
	return nil
}

// ------------------ Content ------------------

// Content returns the stored text of a downloaded book.
func (m *Manager) Content(id int64) (*DownloadedBook, string, error) {
	b, err := m.db.GetDownloadedBook(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", fmt.Errorf("book %d: %w", id, ErrNotDownloaded)
		}
		return nil, "", err
	}
	f, err := m.files.Open(b.Path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, f); err != nil {
		return nil, "", err
	}
	return b, sb.String(), nil
}

// Verify checks that the stored file of a downloaded book still matches the
// checksum taken when it was downloaded.
func (m *Manager) Verify(id int64) error {
	b, err := m.db.GetDownloadedBook(id)
	if err != nil {
		return err
	}
	sum, err := m.files.Checksum(b.Path)
	if err != nil {
		return err
	}
	if sum != b.Checksum {
		return fmt.Errorf("book %d: %w", id, ErrChecksumMismatch)
	}
	return nil
}

// ------------------ Export ------------------

// Export writes both catalogs to w as "yaml" or "json".
func (m *Manager) Export(w io.Writer, format string) error {
	var snap Snapshot
	var err error
	if snap.Available, err = m.db.AvailableBooks(""); err != nil {
		return err
	}
	if snap.Downloaded, err = m.db.DownloadedBooks(""); err != nil {
		return err
	}

	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// ------------------ Utilities ------------------

// PrettyAvailable formats an available book for lists.
func PrettyAvailable(b *AvailableBook) string {
	return fmt.Sprintf("%-5d %-40s %-25s %-10t", b.ID, truncate(b.Title, 40), truncate(b.Author, 25), b.Downloaded)
}

// PrettyDownloaded formats a downloaded book for lists.
func PrettyDownloaded(b *DownloadedBook) string {
	return fmt.Sprintf("%-5d %-40s %-25s %-8d %s", b.ID, truncate(b.Title, 40), truncate(b.Author, 25), b.Position, b.LastRead.Local().Format("2006-01-02 15:04"))
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
