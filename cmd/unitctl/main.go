package main

import (
	"os"

	"unitbus/cmd/unitctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
