package main

import (
	"fmt"
	"os"

	"github.com/yegors/aemet-connector/cmd/aemet/commands"
)

func main() {
	app := commands.New()
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if app.UsageError() {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
