package main

import (
	"log/slog"
	"os"

	"xtcli/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("failed to initialize license agent", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("license agent error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
