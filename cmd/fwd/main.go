package main

import (
	"os"

	"github.com/bnema/forwarder/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
