package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalog(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantTitles  []string
		wantSkipped []int
	}{
		{
			name:       "plain lines",
			input:      "Emma,Jane Austen,https://a\nDracula,Bram Stoker,https://b\n",
			wantTitles: []string{"Emma", "Dracula"},
		},
		{
			name:       "comments and blank lines",
			input:      "# header\n\nEmma,Jane Austen,https://a\n\n",
			wantTitles: []string{"Emma"},
		},
		{
			name:       "quoted title with comma",
			input:      "\"Jekyll, and Other Stories\",Stevenson,https://a\n",
			wantTitles: []string{"Jekyll, and Other Stories"},
		},
		{
			name:       "extra columns ignored",
			input:      "Emma,Jane Austen,https://a,extra,more\n",
			wantTitles: []string{"Emma"},
		},
		{
			name:        "short lines skipped",
			input:       "Emma,Jane Austen,https://a\nBroken,Nobody\nDracula,Bram Stoker,https://b\n",
			wantTitles:  []string{"Emma", "Dracula"},
			wantSkipped: []int{2},
		},
		{
			name:        "empty title skipped",
			input:       " ,Anon,https://a\n",
			wantTitles:  []string{},
			wantSkipped: []int{1},
		},
		{
			name:       "no trailing newline",
			input:      "Emma,Jane Austen,https://a",
			wantTitles: []string{"Emma"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ParseCatalog(strings.NewReader(tt.input))
			require.NoError(t, err)

			titles := []string{}
			for _, b := range report.Books {
				titles = append(titles, b.Title)
				assert.False(t, b.Downloaded)
			}
			assert.Equal(t, tt.wantTitles, titles)

			var lines []int
			for _, s := range report.Skipped {
				lines = append(lines, s.Line)
			}
			assert.Equal(t, tt.wantSkipped, lines)
		})
	}
}

func TestParseCatalogTrimsFields(t *testing.T) {
	report, err := ParseCatalog(strings.NewReader("  Emma ,  Jane Austen , https://a  \n"))
	require.NoError(t, err)
	require.Len(t, report.Books, 1)
	b := report.Books[0]
	assert.Equal(t, "Emma", b.Title)
	assert.Equal(t, "Jane Austen", b.Author)
	assert.Equal(t, "https://a", b.URL)
}

func TestBundledCatalog(t *testing.T) {
	report, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	require.Len(t, report.Books, 12)

	assert.Equal(t, "Pride and Prejudice", report.Books[0].Title)
	assert.Equal(t, "Jane Austen", report.Books[0].Author)

	var jekyll *AvailableBook
	for _, b := range report.Books {
		if strings.HasPrefix(b.Title, "The Strange Case") {
			jekyll = b
		}
		assert.True(t, strings.HasPrefix(b.URL, "https://"), b.URL)
	}
	require.NotNil(t, jekyll)
	assert.Equal(t, "The Strange Case of Dr. Jekyll and Mr. Hyde, and Other Stories", jekyll.Title)
	assert.Equal(t, "Robert Louis Stevenson", jekyll.Author)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.csv")
	require.NoError(t, os.WriteFile(path, []byte("Emma,Jane Austen,https://a\n"), 0o644))

	report, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, report.Books, 1)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
