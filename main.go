package main

import (
	"os"

	"github.com/qor5/web/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
