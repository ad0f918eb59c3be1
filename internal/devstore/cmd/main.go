package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/sprintpoker/internal/devstore"
)

// config is the optional YAML config file. Environment variables override
// whatever the file sets.
type config struct {
	Addr     string `yaml:"addr"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
}

func loadConfig() config {
	cfg := config{
		Addr:     ":8090",
		DBPath:   "devstore.db",
		LogLevel: "info",
	}

	path := os.Getenv("DEVSTORE_CONFIG")
	if path == "" {
		path = "devstore.yaml"
	}
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("invalid config file")
		}
		log.Info().Str("path", path).Msg("loaded config file")
	} else if !os.IsNotExist(err) {
		log.Fatal().Err(err).Str("path", path).Msg("could not read config file")
	}

	if v := os.Getenv("DEVSTORE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("DEVSTORE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DEVSTORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := loadConfig()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Str("log_level", cfg.LogLevel).Msg("unknown log level")
	}
	zerolog.SetGlobalLevel(level)

	store, err := devstore.OpenStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("failed to open record store")
	}
	defer store.Close()

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     devstore.NewServer(store).Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("db_path", cfg.DBPath).Msg("record store listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	fmt.Fprintln(os.Stderr, "record store stopped")
}
