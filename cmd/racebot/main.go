package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"race-lab/auth"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/idcodec"
	"race-lab/infrastructure/stream"
	"race-lab/infrastructure/ws"
	"race-lab/internal"
	"race-lab/moderation"
	"race-lab/repositories"
	"race-lab/room"
	"race-lab/runtime"
	"race-lab/runtime/workers"
	"race-lab/services"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2

	shutdownTimeout = 10 * time.Second
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Racebot terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Configuration & Logger
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	charReplacement, _ := internal.CharacterRune(config.CharReplacement)
	log := logs.GetLoggerFromString(config.LogLevel)
	clk := clock.Real()
	pid := config.PID()

	codec, err := idcodec.New(config.HashidSecret)
	if err != nil {
		return exitConfig, err
	}
	tokens, err := auth.NewTokens(config.JWTSecret, config.AuthTokenDuration, codec, clk)
	if err != nil {
		return exitConfig, err
	}

	// 2. Word lists
	loader := runtime.EmbeddedWords()
	slugWords, err := loader.LoadSlugWords("words/slugs")
	if err != nil {
		return exitConfig, fmt.Errorf("slug words: %w", err)
	}
	censored, err := loader.LoadCensored("words/censored")
	if err != nil {
		return exitConfig, fmt.Errorf("censored words: %w", err)
	}
	moderator, err := moderation.NewLanguageModerator(censored.Dictionaries, charReplacement, log)
	if err != nil {
		return exitConfig, err
	}
	log.Info("Moderation ready", "languages", censored.Languages)

	// 3. Database (BadgerDB)
	db, err := repositories.Open(config.BadgerFilepath)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	store := repositories.NewStore(db, log)
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = store.Close()
		_ = db.Close()
	}()

	// 4. Rooms & broadcast
	registry := runtime.NewRegistry()
	hub := runtime.NewHub(log, registry, clk, config.SendDeadline)
	rooms := room.NewService(log, store, hub, codec, clk, moderator, slugWords, config.LockTimeout)
	dispatcher := services.NewDispatcher(log, rooms, codec, clk)

	// 5. Supervision
	var liveness contract.Liveness = workers.ProcessLiveness{}
	if config.Liveness == internal.LivenessHeartbeat {
		liveness = &workers.HeartbeatLiveness{Store: store, Clock: clk, MaxAge: 3 * config.HeartbeatInterval}
	}
	racebot := workers.NewRacebot(log, rooms, store, clk, liveness, pid, probes(config, log, clk)...)
	sup := workers.NewSupervisor(log).WithRestartDelay(config.RestartInterval)
	sup.Add(
		racebot,
		workers.NewHeartbeatWorker(log, store, clk, pid, config.HeartbeatInterval, racebot.Owned),
	)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 7. HTTP servers
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:    address,
		Handler: ws.NewServer(log, hub, rooms, dispatcher, tokens, clk, config.SubscriberBuffer).Handler(),
	}
	errChan := make(chan error, 2)
	go func() {
		log.Info("Starting websocket server", "address", address, "pid", pid)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("websocket server error: %w", err)
		}
	}()

	var debug *http.Server
	if config.DebugPort != nil {
		debug = &http.Server{
			Addr: internal.DebugAddress(config.Host, *config.DebugPort),
			Handler: internal.DebugHandler(db, func() map[string]any {
				return map[string]any{"owned": racebot.Owned(), "watched": registry.Watched()}
			}),
		}
		go func() {
			log.Info("Debug inspector available", "url", "http://"+debug.Addr+internal.InspectEndpoint)
			if err := debug.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("debug server error: %w", err)
			}
		}()
	}

	// 8. Wait for Stop or Error
	code, runErr := exitOK, error(nil)
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case runErr = <-errChan:
		code = exitRuntime
		stop()
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	_ = server.Shutdown(shutdownCtx)
	if debug != nil {
		_ = debug.Shutdown(shutdownCtx)
	}
	<-supDone
	log.Info("Program stopped cleanly")
	return code, runErr
}

// probes returns a schedule per configured streaming provider.
func probes(config internal.Config, log *slog.Logger, clk clock.Clock) []workers.ProbeSchedule {
	var out []workers.ProbeSchedule
	if config.TwitchClientID != "" {
		out = append(out, workers.ProbeSchedule{
			Probe: stream.NewTwitch(log, stream.TwitchConfig{
				ClientID:     config.TwitchClientID,
				ClientSecret: config.TwitchClientSecret,
			}, clk),
			Idle: config.StreamPollIdle,
			Live: config.StreamPollLive,
		})
	}
	if config.YoutubeAPIKey != "" {
		out = append(out, workers.ProbeSchedule{
			Probe: stream.NewYoutube(log, stream.YoutubeConfig{APIKey: config.YoutubeAPIKey}),
			Idle:  config.StreamPollIdle,
			Live:  config.StreamPollLive,
		})
	}
	return out
}
