// The main package for the bookscraper executable.
package main

import (
	"github.com/JakeFAU/toscrape-books/cmd"
)

func main() {
	cmd.Execute()
}
