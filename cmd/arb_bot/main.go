package main

import (
	"flag"
	"fmt"
	"os"

	"arb_bot/internal/bootstrap"
)

var configFile = flag.String("config", "", "Path to configuration file (empty runs the built-in defaults)")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		app.Logger.Error("Application exited with error", "error", err)
		os.Exit(1)
	}
}
