package main

import (
	"context"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/adapters/localplayer"
	"github.com/resona-audio/resona/internal/adapters/syncws"
	"github.com/resona-audio/resona/internal/app"
	"github.com/resona-audio/resona/internal/config"
	"github.com/resona-audio/resona/internal/domain"
	"github.com/resona-audio/resona/internal/protocol"
)

func main() {
	ctx, cancel := osignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if cfg.UpstreamURL == "" {
		log.Fatal().Msg("upstream_url is required for the agent")
	}

	registry := app.NewRegistry()
	player := localplayer.New(domain.PlayerInfo{
		ID:       1,
		Name:     cfg.ConnectionName,
		OutputID: domain.OutputID("default"),
	})
	profile := domain.ProfileID(cfg.Profile)

	var (
		client *syncws.Client
		coord  *app.Coordinator
	)
	client = syncws.NewClient(cfg.UpstreamURL, func(ctx context.Context, msg protocol.InboundEnvelope) {
		coord.HandleMessage(ctx, msg)
	}, syncws.Options{
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		// The handshake re-runs on every reconnect so the server-side
		// registration and the session snapshot survive connection loss.
		OnOpen: func() {
			send := func(msgType string, payload any) {
				if err := client.Send(msgType, payload); err != nil {
					log.Error().Err(err).Str("type", msgType).Msg("enqueue failed")
				}
			}
			send(protocol.TypeGetConnectionID, nil)
			send(protocol.TypeRegisterConnection, protocol.RegisterConnectionPayload{
				Name:    cfg.ConnectionName,
				Profile: profile,
			})
			send(protocol.TypeRegisterPlayers, protocol.RegisterPlayersPayload{
				Players: []domain.PlayerInfo{player.Info()},
			})
			send(protocol.TypeGetSessions, protocol.GetSessionsPayload{Profile: profile})
		},
	})
	coord = app.NewCoordinator(registry, client)

	// The local player gets its implementation wired once the server confirms
	// our identity; until then inbound patches stay cache-only.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			if id := coord.ConnectionID(); id != "" {
				registry.RegisterConnection(id, cfg.ConnectionName)
				registry.RegisterPlayer(id, player.Info(), player)
				log.Info().Str("connection", string(id)).Msg("local player attached")
				return
			}
		}
	}()

	log.Info().Str("upstream", cfg.UpstreamURL).Str("profile", cfg.Profile).Msg("Resona agent started")
	if err := client.Run(ctx); err != nil {
		log.Error().Err(err).Msg("sync client stopped")
	}
	client.Shutdown()
	log.Info().Msg("Agent exited gracefully")
}
