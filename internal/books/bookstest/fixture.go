// Package bookstest renders catalogue page fixtures for tests.
package bookstest

import (
	"fmt"
	"strings"
)

// Page renders a catalogue page with n product entries in the toscrape markup.
func Page(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><section><ol class="row">`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<li class="col-xs-6"><article class="product_pod">`+
			`<div class="image_container"><a href="../..%[1]s"><img alt="Book %[2]d"></a></div>`+
			`<p class="star-rating Four"><i class="icon-star"></i></p>`+
			`<h3><a href="../..%[1]s" title="Book %[2]d">Book %[2]d</a></h3>`+
			`<div class="product_price"><p class="price_color">£%[2]d.99</p></div>`+
			`</article></li>`, ProductURL(i), i)
	}
	b.WriteString(`</ol></section></body></html>`)
	return b.String()
}

// ProductURL is the relative record URL Page uses for product i.
func ProductURL(i int) string {
	return fmt.Sprintf("/book-%d_%d/index.html", i, 1000-i)
}
