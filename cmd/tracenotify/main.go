package main

import (
	"os"

	"github.com/solatis/tracenotify/cmd/tracenotify/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
