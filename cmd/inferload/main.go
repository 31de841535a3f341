package main

import (
	"log/slog"
	"os"

	"github.com/inferload/inferload/internal/cli"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := cli.Execute(); err != nil {
		slog.Error("inferload failed", "error", err)
		os.Exit(1)
	}
}
