package catalog

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("book not found")
	ErrAlreadyDownloaded = errors.New("book already downloaded")
	ErrNotDownloaded     = errors.New("book is not downloaded")
	ErrInvalidPosition   = errors.New("position must not be negative")
	ErrChecksumMismatch  = errors.New("stored file does not match its checksum")
)

// notFound converts sql.ErrNoRows into ErrNotFound for the given table and id.
func notFound(err error, table string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s book %d: %w", table, id, ErrNotFound)
	}
	return err
}
