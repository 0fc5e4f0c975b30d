package main

import (
	"errors"
	"fmt"
	"os"

	"wiretide/config"
	"wiretide/internal/logs"
	"wiretide/server"

	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	var app server.App
	if err := app.Initialize(cfg); err != nil {
		logs.Logger.Fatalf("initialize: %v", err)
	}
	if err := app.Run(); err != nil {
		logs.Logger.Fatalf("run: %v", err)
	}
}
