package catalog

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// FileStore keeps the content of downloaded books on disk.
type FileStore struct {
	booksDir string
}

// StoredFile describes a book file written by FileStore.Stage. Until Commit
// is called the content lives only at the staging path.
type StoredFile struct {
	Path     string
	Size     int64
	Checksum string

	staging string
}

// NewFileStore creates the books directory under baseDir if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	fs := &FileStore{booksDir: filepath.Join(baseDir, "books")}
	if err := os.MkdirAll(fs.booksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create books dir: %w", err)
	}
	return fs, nil
}

// Dir returns the directory holding book files.
func (fs *FileStore) Dir() string { return fs.booksDir }

// BookPath returns where the content of book id is stored.
func (fs *FileStore) BookPath(id int64) string {
	return filepath.Join(fs.booksDir, strconv.FormatInt(id, 10)+".txt")
}

// Stage streams r into a temporary file for book id and records its size and
// checksum. Nothing appears at BookPath until Commit.
func (fs *FileStore) Stage(id int64, r io.Reader) (*StoredFile, error) {
	staging := filepath.Join(fs.booksDir, "."+uuid.NewString()+".partial")
	f, err := os.Create(staging)
	if err != nil {
		return nil, err
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		os.Remove(staging)
		return nil, err
	}

	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(staging)
		return nil, fmt.Errorf("write book %d: %w", id, err)
	}
	return &StoredFile{
		Path:     fs.BookPath(id),
		Size:     n,
		Checksum: hex.EncodeToString(h.Sum(nil)),
		staging:  staging,
	}, nil
}

// Commit moves a staged file to its final path.
func (fs *FileStore) Commit(sf *StoredFile) error {
	if sf.staging == "" {
		return nil
	}
	if err := os.Rename(sf.staging, sf.Path); err != nil {
		return err
	}
	sf.staging = ""
	return nil
}

// Discard deletes a staged file that was never committed. A committed file is
// left alone.
func (fs *FileStore) Discard(sf *StoredFile) error {
	if sf.staging == "" {
		return nil
	}
	err := fs.Remove(sf.staging)
	sf.staging = ""
	return err
}

// Clear deletes every file in the books directory, committed or staged, and
// returns how many were removed.
func (fs *FileStore) Clear() (int, error) {
	entries, err := os.ReadDir(fs.Dir())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := fs.Remove(filepath.Join(fs.Dir(), e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Open opens a stored book for reading.
func (fs *FileStore) Open(path string) (*os.File, error) {
	return os.Open(filepath.Clean(path))
}

// Remove deletes a stored book. A file that is already gone is not an error.
func (fs *FileStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(filepath.Clean(path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Checksum returns the hex BLAKE2b-256 digest of the file at path.
func (fs *FileStore) Checksum(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
