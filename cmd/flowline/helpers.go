package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"flowline/internal/logging"
)

func readFileTrimmed(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(content)), nil
}

// quietLogger keeps CLI output clean; warnings and errors still surface.
func quietLogger() *slog.Logger {
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console"})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}
