// Command turnsync serves live voice interview sessions over /ws/voice.
//
// Usage:
//
//	export DEEPGRAM_API_KEY=...
//	export GEMINI_API_KEY=...
//	go run ./cmd/turnsync
//
// Settings come from a local .env file, the YAML file named by
// TURNSYNC_CONFIG, and the environment, in that order.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/turnsync/answer"
	"github.com/AltairaLabs/turnsync/config"
	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/metrics"
	"github.com/AltairaLabs/turnsync/roombus"
	"github.com/AltairaLabs/turnsync/roomstate"
	"github.com/AltairaLabs/turnsync/server"
	"github.com/AltairaLabs/turnsync/session"
	"github.com/AltairaLabs/turnsync/stt/deepgram"
	"github.com/AltairaLabs/turnsync/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Error("turnsync exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithInstanceID(ctx, cfg.InstanceID)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		InstanceID:  cfg.InstanceID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	store := roomstate.Open(ctx, roomstate.Options{
		UseRedis: cfg.Redis.UseRoomState,
		RedisURL: cfg.Redis.URL,
		TTL:      cfg.Redis.StateTTL,
	})
	defer store.Close()
	bus := roombus.Open(ctx, roombus.Options{
		Enabled:    cfg.Redis.EventBus,
		RedisURL:   cfg.Redis.URL,
		InstanceID: cfg.InstanceID,
	})
	defer bus.Close()

	opts := []session.HubOption{}
	if cfg.STT.DeepgramAPIKey != "" {
		opts = append(opts, session.WithDialer(deepgram.New(deepgram.Config{
			APIKey:        cfg.STT.DeepgramAPIKey,
			URL:           cfg.STT.DeepgramURL,
			Model:         cfg.STT.Model,
			Language:      cfg.STT.Language,
			SampleRate:    cfg.STT.SampleRate,
			EndpointingMS: cfg.STT.EndpointingMS,
		})))
	} else {
		logger.Warn("DEEPGRAM_API_KEY not set, live transcription disabled")
	}
	if cfg.Answer.GeminiAPIKey != "" {
		gen, err := answer.NewGeminiGenerator(ctx, cfg.Answer.GeminiAPIKey, cfg.Answer.Model)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithGenerator(gen))
	} else {
		logger.Warn("GEMINI_API_KEY not set, answer suggestions use the built-in fallback")
	}

	hub, err := session.NewHub(session.FromConfig(cfg), store, bus, opts...)
	if err != nil {
		return err
	}
	go hub.Listen(ctx, cfg.Redis.ListenerBackoff)
	go hub.Sessions().RunCleanup(ctx, cfg.Session.CleanupInterval, cfg.Session.InactiveTTL)

	srv, err := server.New(hub, cfg.Socket.ClientVersionConstraint,
		server.WithAddr(cfg.ListenAddr),
		server.WithBaseContext(ctx),
		server.WithMetricsHandler(metrics.NewExporter(metrics.WithInstanceLabel(cfg.InstanceID)).Handler()),
	)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("turnsync listening", "addr", cfg.ListenAddr, "instance_id", cfg.InstanceID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := hub.Wait(shutdownCtx); err != nil {
		logger.Warn("sessions did not drain", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	return nil
}
