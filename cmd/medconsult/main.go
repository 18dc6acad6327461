package main

import (
	"os"

	"github.com/randalmurphal/medconsult/cmd/medconsult/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
