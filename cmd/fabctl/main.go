package main

import (
	"os"

	"github.com/fabricdb/fabctl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
