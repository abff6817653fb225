package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/config"
	"github.com/FractalBrew/file-store/src/server"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Fail fast if required settings or secrets are missing.
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"port":        cfg.Port,
		"environment": cfg.Environment,
		"backend":     cfg.Backend,
		"log_level":   cfg.LogLevel,
	}).Info("Starting file-store server")

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize server")
	}

	if err := srv.Run(); err != nil {
		logger.WithError(err).Fatal("Server terminated abnormally")
	}
}
