package main

import (
	"fmt"
	"os"

	"github.com/pixscaler/pixscaler-api/app"
)

func main() {
	// setup and run app
	if err := app.SetupAndRunServer(); err != nil {
		fmt.Fprintln(os.Stderr, "pixscaler-api:", err)
		os.Exit(1)
	}
}
