package main

import (
	"os"

	"docsearch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
