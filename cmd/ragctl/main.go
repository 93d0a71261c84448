package main

import (
	"os"

	"github.com/aihub/docqa/cmd/ragctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
