package main

import (
	"os"

	"github.com/machinefabric/cardbridge-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
