package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/drift"
	"github.com/ljungh/tandem/internal/gateway"
	"github.com/ljungh/tandem/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	sessCfg, err := cfg.sessionConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid session configuration")
	}

	clk := clockwork.NewRealClock()
	engine := drift.NewEngine(cfg.driftConfig())
	store := session.NewStore()

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	app := session.NewApp(store, engine, clk, cm, sessCfg)
	wsHandler := gateway.NewHandler(cm, app, clk)
	api := gateway.NewRestAPI(app)

	server := setupServer(cfg, api, wsHandler)

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Dur("sync_interval", sessCfg.SyncInterval).
			Msg("coordinator listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	app.Close()
	log.Info().Msg("shutdown complete")
}
