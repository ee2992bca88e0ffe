package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-canbcm/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "bcm-agent")
	logging.Set(l)
	return l
}
