package main

import (
	"os"

	"github.com/opd-ai/zrtp/cmd/zrtpcache/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
