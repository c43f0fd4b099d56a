package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"ereader/catalog"
	"ereader/internal/config"
	"ereader/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	catalogFile := flag.String("catalog", cfg.CatalogFile, "catalog file to import (bundled catalog when empty)")
	fresh := flag.Bool("fresh", false, "delete the database files before importing")
	flag.Parse()

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if *fresh {
		fmt.Println("Cleaning up existing database files...")
		for _, file := range []string{cfg.DBPath, cfg.DBPath + "-shm", cfg.DBPath + "-wal"} {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
			}
		}
	}

	_, statErr := os.Stat(cfg.DBPath)
	existed := statErr == nil

	// Opening a new database seeds it; an existing one is reseeded below.
	fmt.Printf("Importing catalog into %s...\n", cfg.DBPath)
	manager, err := catalog.NewManager(catalog.Options{
		DBPath:      cfg.DBPath,
		LibraryDir:  cfg.LibraryDir,
		CatalogFile: *catalogFile,
		Logger:      log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	books, err := manager.Available("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading catalog: %v\n", err)
		os.Exit(1)
	}
	if existed {
		if _, err := manager.Reseed(*catalogFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error reseeding catalog: %v\n", err)
			os.Exit(1)
		}
		if books, err = manager.Available(""); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading catalog: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("\nImport complete! %d books available.\n", len(books))
	if len(books) > 0 {
		fmt.Printf("%-3s %-50s %-30s\n", "ID", "Title", "Author")
		fmt.Println(strings.Repeat("-", 85))
		for _, b := range books {
			fmt.Printf("%-3d %-50s %-30s\n", b.ID, truncateString(b.Title, 50), truncateString(b.Author, 30))
		}
	}
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
