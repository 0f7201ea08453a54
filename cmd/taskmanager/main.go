package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/hitoshi/taskmanager/internal/app"
	"github.com/hitoshi/taskmanager/internal/config"
)

func main() {
	fs := flag.NewFlagSet("taskmanager", flag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "path to a .env file loaded before reading the environment")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: taskmanager [flags] [serve|migrate [up|down]|healthcheck]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Stdout, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
