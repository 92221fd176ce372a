// Package books models the book listings scraped from the toscrape catalogue and
// extracts them from catalogue page HTML.
package books

import (
	"fmt"
	"strings"
)

// DefaultPageTemplate is the catalogue page URL; %d is the 1-based page number.
const DefaultPageTemplate = "https://books.toscrape.com/catalogue/category/books_1/page-%d.html"

// DefaultBaseURL prefixes relative record URLs when exporting.
const DefaultBaseURL = "https://books.toscrape.com/catalogue"

// Record is one product entry extracted from a catalogue page.
type Record struct {
	Title        string `json:"title" csv:"title"`
	URL          string `json:"url" csv:"url"`
	ProductPrice string `json:"product_price" csv:"product_price"`
	Stars        string `json:"stars" csv:"stars"`
}

// Header lists the export column names in row order.
func Header() []string {
	return []string{"title", "url", "product_price", "stars"}
}

// Row returns the record's fields in Header order.
func (r Record) Row() []string {
	return []string{r.Title, r.URL, r.ProductPrice, r.Stars}
}

// Absolute returns a copy of r whose URL is prefixed with base.
func (r Record) Absolute(base string) Record {
	out := r
	out.URL = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(r.URL, "/")
	return out
}

// PageURLs formats template once per page in [first, last].
func PageURLs(template string, first, last int) ([]string, error) {
	if !strings.Contains(template, "%d") {
		return nil, fmt.Errorf("page template %q has no %%d verb", template)
	}
	if first < 1 || last < first {
		return nil, fmt.Errorf("invalid page range %d..%d", first, last)
	}
	urls := make([]string, 0, last-first+1)
	for page := first; page <= last; page++ {
		urls = append(urls, fmt.Sprintf(template, page))
	}
	return urls, nil
}
