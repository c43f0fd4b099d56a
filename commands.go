package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ereader/catalog"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "ereader",
		Short:        "Browse, download and read books from the local catalog",
		SilenceUsage: true,
	}

	root.AddCommand(
		newAvailableCmd(a),
		newDownloadedCmd(a),
		newDownloadCmd(a),
		newRemoveCmd(a),
		newReadCmd(a),
		newProgressCmd(a),
		newLastCmd(a),
		newUpdateCmd(a),
		newVerifyCmd(a),
		newExportCmd(a),
		newShellCmd(a),
	)
	return root
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid book ID: %s", s)
	}
	return id, nil
}

func newAvailableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "available [id]",
		Short: "List books that can be downloaded",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			books, err := mgr.Available(filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(books) == 0 {
				fmt.Fprintln(out, "No books in catalog.")
				return nil
			}
			fmt.Fprintf(out, "%-5s %-40s %-25s %-10s\n", "ID", "Title", "Author", "Downloaded")
			fmt.Fprintln(out, strings.Repeat("-", 83))
			for _, b := range books {
				fmt.Fprintln(out, catalog.PrettyAvailable(b))
			}
			return nil
		},
	}
}

func newDownloadedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "downloaded [id]",
		Short: "List downloaded books and reading progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			books, err := mgr.Downloaded(filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(books) == 0 {
				fmt.Fprintln(out, "No downloaded books.")
				return nil
			}
			fmt.Fprintf(out, "%-5s %-40s %-25s %-8s %s\n", "ID", "Title", "Author", "Page", "Last read")
			fmt.Fprintln(out, strings.Repeat("-", 98))
			for _, b := range books {
				fmt.Fprintln(out, catalog.PrettyDownloaded(b))
			}
			return nil
		},
	}
}

func newDownloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download <id> [file|-]",
		Short: "Store a book's content locally (from a file, or stdin with -)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager()
			if err != nil {
				return err
			}

			var b *catalog.DownloadedBook
			if len(args) == 1 || args[1] == "-" {
				b, err = mgr.Download(id, cmd.InOrStdin())
			} else {
				b, err = mgr.DownloadFile(id, args[1])
			}
			if err != nil {
				return fmt.Errorf("download book %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded '%s' by %s (%d bytes) to %s\n", b.Title, b.Author, b.Size, b.Path)
			return nil
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a downloaded book and its file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			if err := mgr.Remove(id); err != nil {
				return fmt.Errorf("remove book %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed book %d\n", id)
			return nil
		},
	}
}

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read [id]",
		Short: "Read a downloaded book (defaults to the last one read)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			var id int64
			if len(args) == 1 {
				if id, err = parseID(args[0]); err != nil {
					return err
				}
			} else {
				last, err := mgr.LastRead()
				if err != nil {
					return err
				}
				id = last.ID
			}
			return mgr.Read(id, cmd.InOrStdin(), cmd.OutOrStdout(), a.cfg.Reader.PageSize)
		},
	}
}

func newProgressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id> <position>",
		Short: "Record the position reached in a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position: %s", args[1])
			}
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			if err := mgr.RecordSession(id, pos); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Book %d is at position %d\n", id, pos)
			return nil
		},
	}
}

func newLastCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Show the book read most recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			b, err := mgr.LastRead()
			if errors.Is(err, catalog.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing read yet.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), catalog.PrettyDownloaded(b))
			return nil
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		title, author, url string
		downloaded         bool
		position           int
		path               string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a book's metadata in the available or downloaded catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			flags := cmd.Flags()

			if !downloaded {
				b, err := mgr.GetAvailable(id)
				if err != nil {
					return err
				}
				if flags.Changed("title") {
					b.Title = title
				}
				if flags.Changed("author") {
					b.Author = author
				}
				if flags.Changed("url") {
					b.URL = url
				}
				if err := mgr.UpdateAvailable(b); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), catalog.PrettyAvailable(b))
				return nil
			}

			b, err := mgr.GetDownloaded(id)
			if err != nil {
				return err
			}
			if flags.Changed("title") {
				b.Title = title
			}
			if flags.Changed("author") {
				b.Author = author
			}
			if flags.Changed("url") {
				b.URL = url
			}
			if flags.Changed("position") {
				b.Position = position
			}
			if flags.Changed("path") {
				b.Path = filepath.Clean(path)
			}
			if err := mgr.UpdateDownloaded(b); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), catalog.PrettyDownloaded(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&author, "author", "", "new author")
	cmd.Flags().StringVar(&url, "url", "", "new source URL")
	cmd.Flags().BoolVar(&downloaded, "downloaded", false, "update the downloaded catalog instead")
	cmd.Flags().IntVar(&position, "position", 0, "reading position (downloaded only)")
	cmd.Flags().StringVar(&path, "path", "", "local file path (downloaded only)")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Check a downloaded book's file against its checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			if err := mgr.Verify(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Book %d OK\n", id)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write both catalogs as YAML or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager()
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(filepath.Clean(output))
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return mgr.Export(w, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "yaml or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// newShellCmd starts an interactive loop. Each line is run as if it had been
// given on the command line, against the same open catalog.
func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out := cmd.InOrStdin(), cmd.OutOrStdout()
			if _, err := a.manager(); err != nil {
				return err
			}

			fmt.Fprintln(out, "Welcome to the e-reader catalog!")
			fmt.Fprintln(out, "Commands: available, downloaded, download, remove, read, progress, last, update, verify, export, help, exit")

			// One reader for the whole session so that "read" can keep
			// consuming lines from it.
			br := bufio.NewReader(in)
			for {
				fmt.Fprint(out, "\n> ")
				line, err := br.ReadString('\n')
				fields := strings.Fields(line)
				if len(fields) > 0 {
					if fields[0] == "exit" || fields[0] == "quit" {
						fmt.Fprintln(out, "Goodbye!")
						return nil
					}
					if fields[0] == "shell" {
						fmt.Fprintln(out, "Already in the shell.")
					} else {
						sub := newRootCmd(a)
						sub.SetArgs(fields)
						sub.SetIn(br)
						sub.SetOut(out)
						sub.SetErr(out)
						_ = sub.Execute()
					}
				}
				if err != nil {
					return nil
				}
			}
		},
	}
}
