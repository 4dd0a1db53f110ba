package main

import (
	"os"

	"github.com/esp32-tools/memharness/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
