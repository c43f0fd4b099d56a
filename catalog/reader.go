package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// DefaultPageSize is the number of characters shown per page.
const DefaultPageSize = 1500

// Paginate splits content into pages of at most pageSize runes.
func Paginate(content string, pageSize int) []string {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	runes := []rune(content)
	pages := make([]string, 0, len(runes)/pageSize+1)
	for i := 0; i < len(runes); i += pageSize {
		end := i + pageSize
		if end > len(runes) {
			end = len(runes)
		}
		pages = append(pages, string(runes[i:end]))
	}
	return pages
}

// Read runs a paginated reading session for downloaded book id, taking
// commands from in and drawing pages to out. The session opens at the stored
// position and records the page reached when the reader quits or input ends.
func (m *Manager) Read(id int64, in io.Reader, out io.Writer, pageSize int) error {
	book, content, err := m.Content(id)
	if err != nil {
		return err
	}
	pages := Paginate(content, pageSize)
	if len(pages) == 0 {
		return fmt.Errorf("book has no content to display")
	}

	current := book.Position
	if current < 0 {
		current = 0
	} else if current >= len(pages) {
		current = len(pages) - 1
	}

	// Reuse a caller's buffered reader so lines after the session stay unread.
	br, ok := in.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(in)
	}
	s := &session{out: out, in: br, clear: isTerminal(out)}
	current = s.run(book, pages, current)

	if err := m.RecordSession(id, current); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	fmt.Fprintf(out, "📖 Stopped '%s' at page %d of %d.\n", book.Title, current+1, len(pages))
	return nil
}

type session struct {
	out   io.Writer
	in    *bufio.Reader
	clear bool
}

// readLine returns the next input line without its line ending. It reports
// false once input is exhausted.
func (s *session) readLine() (string, bool) {
	line, err := s.in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s *session) clearScreen() {
	if s.clear {
		fmt.Fprint(s.out, "\033[2J\033[H")
	}
}

// pause waits for Enter after a message.
func (s *session) pause(msg string) {
	fmt.Fprintln(s.out, msg)
	fmt.Fprintln(s.out, "Press Enter to continue...")
	s.readLine()
}

// run drives the command loop and returns the page the reader stopped on.
func (s *session) run(book *DownloadedBook, pages []string, current int) int {
	rule := strings.Repeat("═", 79)
	s.clearScreen()

	for {
		fmt.Fprintln(s.out, rule)
		fmt.Fprintf(s.out, "📖 %s by %s\n", book.Title, book.Author)
		fmt.Fprintf(s.out, "Page %d of %d\n", current+1, len(pages))
		fmt.Fprintf(s.out, "%s\n\n", rule)

		fmt.Fprintln(s.out, pages[current])

		fmt.Fprintf(s.out, "\n%s\n", rule)
		fmt.Fprintln(s.out, "Navigation: [n]ext | [p]revious | [g]oto page | [q]uit")
		fmt.Fprint(s.out, "> ")

		line, ok := s.readLine()
		if !ok {
			return current
		}
		input := strings.ToLower(strings.TrimSpace(line))
		s.clearScreen()

		switch input {
		case "n", "next":
			if current < len(pages)-1 {
				current++
			} else {
				s.pause("📖 You're already on the last page!")
			}
		case "p", "prev", "previous":
			if current > 0 {
				current--
			} else {
				s.pause("📖 You're already on the first page!")
			}
		case "g", "goto":
			fmt.Fprintf(s.out, "Enter page number (1-%d): ", len(pages))
			line, ok := s.readLine()
			if !ok {
				return current
			}
			n, err := strconv.Atoi(strings.TrimSpace(line))
			if err != nil {
				s.pause("Invalid page number!")
				break
			}
			current = n - 1
			if current < 0 {
				current = 0
			} else if current >= len(pages) {
				current = len(pages) - 1
			}
		case "q", "quit", "exit":
			return current
		case "":
		default:
			s.pause(fmt.Sprintf("Unknown command: %s\nUse: [n]ext, [p]revious, [g]oto, or [q]uit", input))
		}
		s.clearScreen()
	}
}
