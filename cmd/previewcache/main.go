package main

import (
	"github.com/spritepal/previewcache/internal/cli"
)

func main() {
	cli.Execute()
}
