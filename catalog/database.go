package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db      *sql.DB
	created bool

	addAvailableStmt  *sql.Stmt
	addDownloadedStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Foreign keys keep downloaded rows tied to their available row.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	created, err := applyMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db, created: created}
	if err := database.prepareStatements(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addAvailableStmt != nil {
		d.addAvailableStmt.Close()
	}
	if d.addDownloadedStmt != nil {
		d.addDownloadedStmt.Close()
	}
	return d.db.Close()
}

// Created reports whether the catalog tables were created (or recreated by an
// upgrade) when this database was opened. A freshly created catalog is empty
// and should be seeded.
func (d *Database) Created() bool { return d.created }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

// Version 1 kept position and date_read as TEXT.
const schemaVersion = 2

var createStmts = []string{
	`CREATE TABLE IF NOT EXISTS available (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            url TEXT NOT NULL,
            is_downloaded BOOLEAN NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS downloaded (
            id INTEGER PRIMARY KEY REFERENCES available(id),
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            url TEXT NOT NULL,
            position INTEGER NOT NULL DEFAULT 0,
            file_path TEXT NOT NULL,
            date_read DATETIME NOT NULL,
            file_size INTEGER NOT NULL DEFAULT 0,
            checksum TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE INDEX IF NOT EXISTS idx_downloaded_date_read ON downloaded(date_read);`,
}

// Older catalogs are discarded on upgrade rather than copied forward.
var dropStmts = []string{
	`DROP TABLE IF EXISTS downloaded;`,
	`DROP TABLE IF EXISTS available;`,
}

func applyMigrations(db *sql.DB) (bool, error) {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return false, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return false, err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return false, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	stmts := createStmts
	if current > 0 {
		stmts = append(append([]string{}, dropStmts...), createStmts...)
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return false, fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return false, fmt.Errorf("record schema version: %w", err)
	}

	return true, tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addAvailableStmt, err = d.db.Prepare(`INSERT INTO available(title,author,url,is_downloaded) VALUES(?,?,?,0)`); err != nil {
		return err
	}
	if d.addDownloadedStmt, err = d.db.Prepare(`INSERT INTO downloaded(id,title,author,url,position,file_path,date_read,file_size,checksum)
            VALUES(?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// Seed inserts books into the available catalog in one transaction. Every
// seeded book starts out not downloaded.
func (d *Database) Seed(books []*AvailableBook) (int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt := tx.Stmt(d.addAvailableStmt)
	defer stmt.Close()

	for _, b := range books {
		res, err := stmt.Exec(b.Title, b.Author, b.URL)
		if err != nil {
			return 0, fmt.Errorf("seed %q: %w", b.Title, err)
		}
		if b.ID, err = res.LastInsertId(); err != nil {
			return 0, err
		}
		b.Downloaded = false
	}
	return len(books), tx.Commit()
}

// Reset drops every catalog row so the database can be reseeded.
func (d *Database) Reset() error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM downloaded;`,
		`DELETE FROM available;`,
		`DELETE FROM sqlite_sequence WHERE name='available';`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("reset catalog: %w", err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Available catalog
// ---------------------------------------------------------------------------

// AddAvailableBook inserts a not-yet-downloaded book and returns its ID.
func (d *Database) AddAvailableBook(b *AvailableBook) (int64, error) {
	res, err := d.addAvailableStmt.Exec(b.Title, b.Author, b.URL)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *Database) GetAvailableBook(id int64) (*AvailableBook, error) {
	var b AvailableBook
	err := d.db.QueryRow(`SELECT id,title,author,url,is_downloaded FROM available WHERE id=?`, id).
		Scan(&b.ID, &b.Title, &b.Author, &b.URL, &b.Downloaded)
	if err != nil {
		return nil, notFound(err, AvailableTable, id)
	}
	return &b, nil
}

// AvailableBooks returns the whole available catalog when filter is empty,
// otherwise the book whose ID equals filter (if any).
func (d *Database) AvailableBooks(filter string) ([]*AvailableBook, error) {
	query := `SELECT id,title,author,url,is_downloaded FROM available`
	var args []interface{}
	if filter = strings.TrimSpace(filter); filter != "" {
		id, err := strconv.ParseInt(filter, 10, 64)
		if err != nil {
			return []*AvailableBook{}, nil
		}
		query += ` WHERE id=?`
		args = append(args, id)
	}

	rows, err := d.db.Query(query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []*AvailableBook{}
	for rows.Next() {
		var b AvailableBook
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.URL, &b.Downloaded); err != nil {
			return nil, err
		}
		books = append(books, &b)
	}
	return books, rows.Err()
}

// UpdateAvailableBook replaces the title, author and url of an available book.
func (d *Database) UpdateAvailableBook(b *AvailableBook) error {
	res, err := d.db.Exec(`UPDATE available SET title=?, author=?, url=? WHERE id=?`, b.Title, b.Author, b.URL, b.ID)
	return affected(res, err, AvailableTable, b.ID)
}

// SetDownloaded flips the downloaded flag of an available book.
func (d *Database) SetDownloaded(id int64, downloaded bool) error {
	res, err := d.db.Exec(`UPDATE available SET is_downloaded=? WHERE id=?`, downloaded, id)
	return affected(res, err, AvailableTable, id)
}

// ---------------------------------------------------------------------------
// Downloaded catalog
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const downloadedColumns = `id,title,author,url,position,file_path,date_read,file_size,checksum`

func scanDownloaded(s rowScanner) (*DownloadedBook, error) {
	var b DownloadedBook
	if err := s.Scan(&b.ID, &b.Title, &b.Author, &b.URL, &b.Position, &b.Path, &b.LastRead, &b.Size, &b.Checksum); err != nil {
		return nil, err
	}
	return &b, nil
}

// AddDownloadedBook inserts b under its own ID. The ID must belong to an
// available book.
func (d *Database) AddDownloadedBook(b *DownloadedBook) error {
	_, err := d.addDownloadedStmt.Exec(b.ID, b.Title, b.Author, b.URL, b.Position, b.Path, b.LastRead.UTC(), b.Size, b.Checksum)
	return err
}

// RecordDownload stores b as downloaded and marks the matching available book,
// in one transaction. Title, author and url are taken from the available row.
func (d *Database) RecordDownload(b *DownloadedBook) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var downloaded bool
	err = tx.QueryRow(`SELECT title,author,url,is_downloaded FROM available WHERE id=?`, b.ID).
		Scan(&b.Title, &b.Author, &b.URL, &downloaded)
	if err != nil {
		return notFound(err, AvailableTable, b.ID)
	}
	if !downloaded {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM downloaded WHERE id=?`, b.ID).Scan(&n); err != nil {
			return err
		}
		downloaded = n > 0
	}
	if downloaded {
		return fmt.Errorf("book %d: %w", b.ID, ErrAlreadyDownloaded)
	}

	if _, err := tx.Stmt(d.addDownloadedStmt).Exec(b.ID, b.Title, b.Author, b.URL, b.Position, b.Path, b.LastRead.UTC(), b.Size, b.Checksum); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE available SET is_downloaded=1 WHERE id=?`, b.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Database) GetDownloadedBook(id int64) (*DownloadedBook, error) {
	b, err := scanDownloaded(d.db.QueryRow(`SELECT `+downloadedColumns+` FROM downloaded WHERE id=?`, id))
	if err != nil {
		return nil, notFound(err, DownloadedTable, id)
	}
	return b, nil
}

// DownloadedBooks returns every downloaded book when filter is empty,
// otherwise the book whose ID equals filter (if any).
func (d *Database) DownloadedBooks(filter string) ([]*DownloadedBook, error) {
	query := `SELECT ` + downloadedColumns + ` FROM downloaded`
	var args []interface{}
	if filter = strings.TrimSpace(filter); filter != "" {
		id, err := strconv.ParseInt(filter, 10, 64)
		if err != nil {
			return []*DownloadedBook{}, nil
		}
		query += ` WHERE id=?`
		args = append(args, id)
	}

	rows, err := d.db.Query(query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []*DownloadedBook{}
	for rows.Next() {
		b, err := scanDownloaded(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// UpdateDownloadedBook replaces every mutable column of a downloaded book.
func (d *Database) UpdateDownloadedBook(b *DownloadedBook) error {
	res, err := d.db.Exec(`UPDATE downloaded SET title=?, author=?, url=?, position=?, file_path=?, date_read=? WHERE id=?`,
		b.Title, b.Author, b.URL, b.Position, b.Path, b.LastRead.UTC(), b.ID)
	return affected(res, err, DownloadedTable, b.ID)
}

// UpdateProgress records a reading session: the new position and when it ended.
func (d *Database) UpdateProgress(id int64, position int, at time.Time) error {
	if position < 0 {
		return ErrInvalidPosition
	}
	res, err := d.db.Exec(`UPDATE downloaded SET position=?, date_read=? WHERE id=?`, position, at.UTC(), id)
	return affected(res, err, DownloadedTable, id)
}

// LastReadBook returns the downloaded book read most recently.
func (d *Database) LastReadBook() (*DownloadedBook, error) {
	b, err := scanDownloaded(d.db.QueryRow(`SELECT ` + downloadedColumns + ` FROM downloaded ORDER BY date_read DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no downloaded books: %w", ErrNotFound)
	}
	return b, err
}

// DeleteDownloadedBook removes the downloaded row only. The available flag is
// left untouched; see ForgetDownload.
func (d *Database) DeleteDownloadedBook(id int64) error {
	res, err := d.db.Exec(`DELETE FROM downloaded WHERE id=?`, id)
	return affected(res, err, DownloadedTable, id)
}

// ForgetDownload deletes the downloaded row and clears the available flag in
// one transaction.
func (d *Database) ForgetDownload(id int64) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM downloaded WHERE id=?`, id)
	if err := affected(res, err, DownloadedTable, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE available SET is_downloaded=0 WHERE id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func affected(res sql.Result, err error, table string, id int64) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s book %d: %w", table, id, ErrNotFound)
	}
	return nil
}
