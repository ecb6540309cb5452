// Command maya-bot runs the Maya medical assistant Telegram bot.
//
// Usage:
//
//	maya-bot [-config config.yml] [-env .env] [-debug]
//	maya-bot setup        interactive credential setup, writes .env
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mayahealth/maya-bot/internal/bot"
	"github.com/mayahealth/maya-bot/internal/config"
	"github.com/mayahealth/maya-bot/internal/openai"
	"github.com/mayahealth/maya-bot/internal/store"
	"github.com/mayahealth/maya-bot/internal/telegram"
	"github.com/mayahealth/maya-bot/internal/usage"
)

const dashboardShutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := runSetup(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var (
		configPath = flag.String("config", "config.yml", "path to the YAML config file")
		envFile    = flag.String("env", ".env", "path to the .env secrets file")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	setupLogging(*debug)

	if err := run(*configPath, *envFile); err != nil {
		log.Fatal().Err(err).Msg("maya-bot exited")
	}
}

func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

func run(configPath, envFile string) error {
	secrets, err := config.LoadSecrets(envFile)
	if err != nil {
		return fmt.Errorf("load secrets: %w (run \"maya-bot setup\" to create .env)", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(secrets.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := usage.NewTracker()

	var dashboard *http.Server
	if cfg.Dashboard.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/costs", tracker.HandleDashboard)
		mux.HandleFunc("/costs/live", tracker.HandleLive)
		dashboard = &http.Server{Addr: cfg.Dashboard.Addr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.Dashboard.Addr).Msg("dashboard listening")
			if err := dashboard.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("dashboard server failed")
			}
		}()
	}

	backend := openai.NewClient(secrets.OpenAIKey, secrets.OpenAIBaseURL)
	tg := telegram.NewClient(secrets.TelegramToken, "")
	b := bot.New(cfg, st, tg, backend, tracker)

	log.Info().
		Str("model", cfg.Model.Default).
		Bool("streaming", cfg.Chat.Streaming()).
		Msg("maya-bot starting")

	err = b.RunPolling(ctx)

	if dashboard != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), dashboardShutdownTimeout)
		defer cancel()
		_ = dashboard.Shutdown(shutdownCtx)
	}

	if errors.Is(err, context.Canceled) {
		log.Info().Msg("maya-bot stopped")
		return nil
	}
	return err
}
