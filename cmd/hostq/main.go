package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/doeshing/hostq/internal/infrastructure/cli"
	"github.com/doeshing/hostq/internal/pkg/filesystem"
)

func main() {
	loadEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := cli.Options{Verbose: isVerbose()}
	code := cli.Execute(ctx, opts, os.Args[1:])
	stop()
	os.Exit(code)
}

// loadEnvFile reads ~/.hostq/.env so API keys can live beside the config.
// Variables already set in the environment win.
func loadEnvFile() {
	path := filepath.Join(filesystem.StateDir(), ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "hostq: ignoring %s: %v\n", path, err)
	}
}

func isVerbose() bool {
	return strings.EqualFold(os.Getenv("HOSTQ_DEBUG"), "1") || strings.EqualFold(os.Getenv("HOSTQ_DEBUG"), "true")
}
