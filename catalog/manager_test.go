package catalog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// stepClock returns a clock that advances one minute per call.
func stepClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newManager(t *testing.T, catalogFile string) *Manager {
	t.Helper()
	dir := t.TempDir()
	mgr, err := NewManager(Options{
		DBPath:      filepath.Join(dir, "ereader.db"),
		LibraryDir:  filepath.Join(dir, "library"),
		CatalogFile: catalogFile,
		Logger:      zerolog.Nop(),
		Now:         stepClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewManagerSeedsBundledCatalog(t *testing.T) {
	mgr := newManager(t, "")

	books, err := mgr.Available("")
	require.NoError(t, err)
	assert.Len(t, books, 12)

	downloaded, err := mgr.Downloaded("")
	require.NoError(t, err)
	assert.Empty(t, downloaded)
}

func TestNewManagerSeedsOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		DBPath:      filepath.Join(dir, "ereader.db"),
		LibraryDir:  filepath.Join(dir, "library"),
		CatalogFile: writeCatalog(t, "Emma,Jane Austen,https://a\n"),
		Logger:      zerolog.Nop(),
	}

	mgr, err := NewManager(opts)
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	mgr, err = NewManager(opts)
	require.NoError(t, err)
	defer mgr.Close()

	books, err := mgr.Available("")
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestNewManagerSkipsBadCatalogLines(t *testing.T) {
	var logs bytes.Buffer
	dir := t.TempDir()
	mgr, err := NewManager(Options{
		DBPath:      filepath.Join(dir, "ereader.db"),
		LibraryDir:  filepath.Join(dir, "library"),
		CatalogFile: writeCatalog(t, "Emma,Jane Austen,https://a\nnot a book\n"),
		Logger:      zerolog.New(&logs),
	})
	require.NoError(t, err)
	defer mgr.Close()

	books, err := mgr.Available("")
	require.NoError(t, err)
	assert.Len(t, books, 1)
	assert.Contains(t, logs.String(), "skipping catalog line")
	assert.Contains(t, logs.String(), `"line":2`)
}

func TestNewManagerMissingCatalog(t *testing.T) {
	dir := t.TempDir()
	_, err := NewManager(Options{
		DBPath:      filepath.Join(dir, "ereader.db"),
		LibraryDir:  filepath.Join(dir, "library"),
		CatalogFile: filepath.Join(dir, "nope.csv"),
		Logger:      zerolog.Nop(),
	})
	assert.Error(t, err)
}

func TestDownloadFlow(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\nDracula,Bram Stoker,https://b\n"))

	b, err := mgr.Download(2, strings.NewReader("3 May. Bistritz."))
	require.NoError(t, err)
	assert.Equal(t, "Dracula", b.Title)
	assert.Equal(t, "Bram Stoker", b.Author)
	assert.Equal(t, "https://b", b.URL)
	assert.Equal(t, 0, b.Position)
	assert.FileExists(t, b.Path)

	avail, err := mgr.GetAvailable(2)
	require.NoError(t, err)
	assert.True(t, avail.Downloaded)

	_, content, err := mgr.Content(2)
	require.NoError(t, err)
	assert.Equal(t, "3 May. Bistritz.", content)
	require.NoError(t, mgr.Verify(2))

	_, err = mgr.Download(2, strings.NewReader("again"))
	assert.ErrorIs(t, err, ErrAlreadyDownloaded)

	_, err = mgr.Download(9, strings.NewReader("nothing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadKeepsExistingFile(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))

	b, err := mgr.Download(1, strings.NewReader("first copy"))
	require.NoError(t, err)
	require.NoError(t, mgr.db.SetDownloaded(1, false))

	_, err = mgr.Download(1, strings.NewReader("second copy"))
	assert.ErrorIs(t, err, ErrAlreadyDownloaded)

	data, err := os.ReadFile(b.Path)
	require.NoError(t, err)
	assert.Equal(t, "first copy", string(data))
	require.NoError(t, mgr.Verify(1))

	entries, err := os.ReadDir(mgr.files.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging file left behind")
}

func TestDownloadFailedWriteLeavesNoRow(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))

	_, err := mgr.Download(1, failingReader{})
	require.Error(t, err)

	_, err = mgr.GetDownloaded(1)
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := os.ReadDir(mgr.files.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadFile(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))

	src := filepath.Join(t.TempDir(), "emma.txt")
	require.NoError(t, os.WriteFile(src, []byte("Emma Woodhouse, handsome, clever, and rich"), 0o644))

	b, err := mgr.DownloadFile(1, src)
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.Size)

	_, err = mgr.DownloadFile(1, "")
	assert.Error(t, err)
}

func TestRemoveDeletesFileAndRow(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))

	b, err := mgr.Download(1, strings.NewReader("text"))
	require.NoError(t, err)

	require.NoError(t, mgr.Remove(1))
	assert.NoFileExists(t, b.Path)

	_, err = mgr.GetDownloaded(1)
	assert.ErrorIs(t, err, ErrNotFound)
	avail, err := mgr.GetAvailable(1)
	require.NoError(t, err)
	assert.False(t, avail.Downloaded)

	assert.ErrorIs(t, mgr.Remove(1), ErrNotFound)

	// A removed book can be downloaded again.
	_, err = mgr.Download(1, strings.NewReader("text"))
	require.NoError(t, err)
}

func TestRemoveWithMissingFile(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))

	b, err := mgr.Download(1, strings.NewReader("text"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(b.Path))

	require.NoError(t, mgr.Remove(1))
}

func TestRecordSessionAndLastRead(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\nDracula,Bram Stoker,https://b\n"))

	_, err := mgr.LastRead()
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Download(1, strings.NewReader("one"))
	require.NoError(t, err)
	_, err = mgr.Download(2, strings.NewReader("two"))
	require.NoError(t, err)

	last, err := mgr.LastRead()
	require.NoError(t, err)
	assert.Equal(t, int64(2), last.ID)

	require.NoError(t, mgr.RecordSession(1, 7))
	last, err = mgr.LastRead()
	require.NoError(t, err)
	assert.Equal(t, int64(1), last.ID)
	assert.Equal(t, 7, last.Position)

	assert.ErrorIs(t, mgr.RecordSession(1, -2), ErrInvalidPosition)
	assert.ErrorIs(t, mgr.RecordSession(5, 1), ErrNotFound)
}

func TestUpdateDownloaded(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))
	_, err := mgr.Download(1, strings.NewReader("one"))
	require.NoError(t, err)

	b, err := mgr.GetDownloaded(1)
	require.NoError(t, err)
	b.Position = -1
	assert.ErrorIs(t, mgr.UpdateDownloaded(b), ErrInvalidPosition)

	b.Position = 3
	b.Author = "J. Austen"
	require.NoError(t, mgr.UpdateDownloaded(b))
	got, err := mgr.GetDownloaded(1)
	require.NoError(t, err)
	assert.Equal(t, "J. Austen", got.Author)
	assert.Equal(t, 3, got.Position)
}

func TestVerifyDetectsTampering(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))
	b, err := mgr.Download(1, strings.NewReader("first draft"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(b.Path, []byte("changed"), 0o644))
	assert.ErrorIs(t, mgr.Verify(1), ErrChecksumMismatch)
}

func TestContentOfUndownloadedBook(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))
	_, _, err := mgr.Content(1)
	assert.ErrorIs(t, err, ErrNotDownloaded)
}

func TestExport(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\nDracula,Bram Stoker,https://b\n"))
	_, err := mgr.Download(1, strings.NewReader("one"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, mgr.Export(&buf, "yaml"))
	var fromYAML Snapshot
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Len(t, fromYAML.Available, 2)
	require.Len(t, fromYAML.Downloaded, 1)
	assert.Equal(t, "Emma", fromYAML.Downloaded[0].Title)

	buf.Reset()
	require.NoError(t, mgr.Export(&buf, "json"))
	var fromJSON Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.True(t, fromJSON.Available[0].Downloaded)
	assert.False(t, fromJSON.Available[1].Downloaded)

	assert.Error(t, mgr.Export(&buf, "xml"))
}

func TestReseed(t *testing.T) {
	mgr := newManager(t, writeCatalog(t, "Emma,Jane Austen,https://a\n"))
	b, err := mgr.Download(1, strings.NewReader("one"))
	require.NoError(t, err)

	n, err := mgr.Reseed(writeCatalog(t, "Dracula,Bram Stoker,https://b\nMoby Dick,Herman Melville,https://c\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, b.Path)

	books, err := mgr.Available("")
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Dracula", books[0].Title)
	assert.Equal(t, int64(1), books[0].ID)

	downloaded, err := mgr.Downloaded("")
	require.NoError(t, err)
	assert.Empty(t, downloaded)
}

func TestNewManagerUpgradeReseedsAndClearsFiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		DBPath:     filepath.Join(dir, "ereader.db"),
		LibraryDir: filepath.Join(dir, "library"),
		Logger:     zerolog.Nop(),
	}

	mgr, err := NewManager(opts)
	require.NoError(t, err)
	b, err := mgr.Download(3, strings.NewReader("chapter one"))
	require.NoError(t, err)
	_, err = mgr.db.db.Exec(`UPDATE meta SET value='1' WHERE key='schema_version'`)
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	mgr, err = NewManager(opts)
	require.NoError(t, err)
	defer mgr.Close()

	books, err := mgr.Available("")
	require.NoError(t, err)
	assert.Len(t, books, 12)
	for _, book := range books {
		assert.False(t, book.Downloaded)
	}

	downloaded, err := mgr.Downloaded("")
	require.NoError(t, err)
	assert.Empty(t, downloaded)
	assert.NoFileExists(t, b.Path)
}

func TestNewManagerClearsFilesForNewDatabase(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "library", "books", "4.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("left over"), 0o644))

	mgr, err := NewManager(Options{
		DBPath:      filepath.Join(dir, "ereader.db"),
		LibraryDir:  filepath.Join(dir, "library"),
		CatalogFile: writeCatalog(t, "Emma,Jane Austen,https://a\n"),
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	defer mgr.Close()
	assert.NoFileExists(t, stale)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "Überg...", truncate("Übergrößen", 8))
}
