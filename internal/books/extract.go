package books

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors used against catalogue pages.
const (
	ProductSelector = "ol.row > li > article.product_pod"
	linkSelector    = "h3 > a"
	priceSelector   = "p.price_color"
	ratingSelector  = "p"
)

// hrefPrefixLen is the length of the "../.." segment trimmed from catalogue links.
const hrefPrefixLen = 5

// StructureError reports a product entry that does not have the expected shape.
type StructureError struct {
	Index int
	Field string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("product %d: missing %s", e.Index, e.Field)
}

// Extract parses one catalogue page and returns its product records.
// A page without product entries yields no records and no error. A malformed
// entry fails the whole page so that partial pages are never recorded.
func Extract(r io.Reader) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	products := doc.Find(ProductSelector)
	records := make([]Record, 0, products.Length())
	var extractErr error
	products.EachWithBreak(func(i int, s *goquery.Selection) bool {
		rec, err := extractProduct(i, s)
		if err != nil {
			extractErr = err
			return false
		}
		records = append(records, rec)
		return true
	})
	if extractErr != nil {
		return nil, extractErr
	}
	return records, nil
}

func extractProduct(i int, s *goquery.Selection) (Record, error) {
	link := s.Find(linkSelector).First()
	if link.Length() == 0 {
		return Record{}, &StructureError{Index: i, Field: linkSelector}
	}
	title, ok := link.Attr("title")
	if !ok {
		return Record{}, &StructureError{Index: i, Field: "title attribute"}
	}
	href, ok := link.Attr("href")
	if !ok || len(href) < hrefPrefixLen {
		return Record{}, &StructureError{Index: i, Field: "href attribute"}
	}

	price := s.Find(priceSelector).First()
	if price.Length() == 0 {
		return Record{}, &StructureError{Index: i, Field: priceSelector}
	}

	stars, err := rating(i, s.Find(ratingSelector).First())
	if err != nil {
		return Record{}, err
	}

	return Record{
		Title:        title,
		URL:          href[hrefPrefixLen:],
		ProductPrice: strings.TrimSpace(price.Text()),
		Stars:        stars,
	}, nil
}

// rating returns the second class token, e.g. "Three" from "star-rating Three".
func rating(i int, p *goquery.Selection) (string, error) {
	class, ok := p.Attr("class")
	if !ok {
		return "", &StructureError{Index: i, Field: "rating class"}
	}
	tokens := strings.Fields(class)
	if len(tokens) < 2 {
		return "", &StructureError{Index: i, Field: "rating token"}
	}
	return tokens[1], nil
}
