package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/models"
	"github.com/ljungh/tandem/internal/peer"
	"github.com/ljungh/tandem/internal/spotify"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "coordinator websocket URL")
	sessionID := flag.String("session", "", "session code")
	userID := flag.String("user", "", "user id")
	role := flag.String("role", "client", "peer role: host or client")
	interval := flag.Duration("report-interval", 5*time.Second, "playback report interval")
	authCode := flag.String("auth-code", "", "one-time Spotify authorization code (first run)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if *sessionID == "" || *userID == "" {
		log.Fatal().Msg("-session and -user are required")
	}
	peerRole := models.PeerRole(*role)
	if !peerRole.IsValid() {
		log.Fatal().Str("role", *role).Msg("role must be host or client")
	}

	clientID := os.Getenv("SPOTIFY_CLIENT_ID")
	clientSecret := os.Getenv("SPOTIFY_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal().Msg("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are required")
	}

	clk := clockwork.NewRealClock()
	client := spotify.NewClient(spotify.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  os.Getenv("SPOTIFY_REDIRECT_URI"),
		TokenFile:    os.Getenv("SPOTIFY_TOKEN_FILE"),
	}, clk)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *authCode != "" {
		if err := client.Exchange(ctx, *authCode); err != nil {
			log.Fatal().Err(err).Msg("authorization code exchange failed")
		}
		log.Info().Msg("tokens cached")
	} else if err := client.Authorize(ctx); err != nil {
		log.Error().Err(err).Msg("not authorized; grant access and re-run with -auth-code")
		log.Info().Str("url", client.AuthorizationURL()).Msg("authorization URL")
		os.Exit(1)
	}

	agent := peer.NewAgent(peer.Config{
		ServerURL:      *serverURL,
		SessionID:      *sessionID,
		UserID:         *userID,
		Role:           peerRole,
		ReportInterval: *interval,
	}, spotify.NewAdapter(client, clk), clk)

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("peer agent exited")
	}
	log.Info().Msg("peer agent stopped")
}
