package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/toscrape-books/internal/books"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func sampleRecords() []books.Record {
	return []books.Record{
		{Title: "A Light in the Attic", URL: "/a-light-in-the-attic_1000/index.html", ProductPrice: "£51.77", Stars: "Three"},
		{Title: "Sapiens: A Brief History, of Humankind", URL: "/sapiens-a-brief-history-of-humankind_996/index.html", ProductPrice: "£54.23", Stars: "Five"},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM), "export must start with a UTF-8 BOM")
	rows, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scraped-books.csv")
	summary, err := CSV{Path: path}.Write(sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, path, summary.Path)

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, books.Header(), rows[0])
	assert.Equal(t, []string{
		"A Light in the Attic",
		"https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html",
		"£51.77",
		"Three",
	}, rows[1])
	assert.Equal(t, "Sapiens: A Brief History, of Humankind", rows[2][0], "commas must be quoted")
	for _, row := range rows[1:] {
		assert.True(t, strings.HasPrefix(row[1], "https://books.toscrape.com/catalogue"))
	}
}

func TestCSVWriteOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scraped-books.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale,content\nthat,is\nlonger,than\nthe,export\nx,y\n"), 0o600))

	exporter := CSV{Path: path}
	_, err := exporter.Write(sampleRecords())
	require.NoError(t, err)
	first := readCSV(t, path)

	_, err = exporter.Write(sampleRecords())
	require.NoError(t, err)
	second := readCSV(t, path)

	assert.Len(t, second, len(first))
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")
}

func TestCSVWriteEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	summary, err := CSV{Path: path, BaseURL: "https://example.test/"}.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Rows)

	rows := readCSV(t, path)
	require.Len(t, rows, 1)
	assert.Equal(t, books.Header(), rows[0])
}

func TestCSVWriteRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := CSV{}.Write(sampleRecords())
	require.Error(t, err)
}
