package main

import (
	"os"

	"github.com/shiftsmith/shiftsmith/internal/shiftctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
