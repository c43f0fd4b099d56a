package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"ereader/catalog"
	"ereader/internal/config"
	"ereader/internal/logger"
)

// app holds what every command needs. The manager is opened on first use so
// that one shell session shares a single database handle.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	mgr *catalog.Manager
}

func (a *app) manager() (*catalog.Manager, error) {
	if a.mgr != nil {
		return a.mgr, nil
	}
	mgr, err := catalog.NewManager(catalog.Options{
		DBPath:      a.cfg.DBPath,
		LibraryDir:  a.cfg.LibraryDir,
		CatalogFile: a.cfg.CatalogFile,
		Logger:      a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a.mgr = mgr
	return mgr, nil
}

func (a *app) close() {
	if a.mgr != nil {
		a.mgr.Close()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	a := &app{cfg: cfg, log: logger.New(cfg.Log.Level, cfg.Log.Format)}
	defer a.close()

	if err := newRootCmd(a).Execute(); err != nil {
		a.close()
		os.Exit(1)
	}
}
