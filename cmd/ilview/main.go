package main

import (
	"os"

	"ilview/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
