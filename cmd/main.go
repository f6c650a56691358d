package main

import (
	"os"

	"github.com/soundprediction/starspace/cmd/starspace"
)

func main() {
	if err := starspace.Execute(); err != nil {
		os.Exit(1)
	}
}
