package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vibely/realtime-server-go/internal/auth"
	"github.com/vibely/realtime-server-go/internal/config"
	"github.com/vibely/realtime-server-go/internal/database"
	"github.com/vibely/realtime-server-go/internal/handler"
	"github.com/vibely/realtime-server-go/internal/jobs"
	"github.com/vibely/realtime-server-go/internal/middleware"
	"github.com/vibely/realtime-server-go/internal/presence"
	"github.com/vibely/realtime-server-go/internal/redis"
	"github.com/vibely/realtime-server-go/internal/repository"
	"github.com/vibely/realtime-server-go/internal/service"
	"github.com/vibely/realtime-server-go/internal/socket"
	"github.com/vibely/realtime-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("database connected")

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	messageRepo := repository.NewMessageRepository(db.DB)
	profileRepo := repository.NewProfileRepository(db.DB)
	chatSessionRepo := repository.NewChatSessionRepository(db.DB)

	sseHub := sse.NewHub()
	defer sseHub.Close()
	socketHub := socket.NewHub()
	defer socketHub.Close()

	registry := presence.NewRegistry(sseHub, profileRepo)
	channelService := service.NewChannelService(sseHub, registry, cfg.HeartbeatInterval())
	messageService := service.NewMessageService(messageRepo, profileRepo, channelService, cfg.TypingTimeout())
	defer messageService.StopTyping()
	matchService := service.NewMatchService(
		channelService, messageService, chatSessionRepo,
		cfg.WaitingStaleAfter(), cfg.SessionRetention(),
	)

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	offerLimiter := service.NewStrictRateLimiter(redisClient.Client)
	signalQueue := service.NewSignalQueue(channelService, cfg.SignalTTL())
	callService := service.NewCallService(
		service.NewFallbackTransport(socketHub, signalQueue),
		cfg.CallRingTimeout(),
	).WithOfferLimit(offerLimiter, cfg.CallOffersPerMin)
	defer callService.Shutdown()

	// A user who loses their event channel leaves matchmaking; heartbeats keep
	// a waiting user fresh. Calls end when the binding the user drove them
	// through goes away.
	channelService.OnDisconnect(matchService.Leave)
	channelService.OnHeartbeat(matchService.Touch)
	channelService.OnDisconnect(callService.HandleChannelDisconnect)
	socketHub.OnDisconnect(callService.HandleSocketDisconnect)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	authMiddleware := middleware.NewAuthMiddleware(verifier)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(rateLimiter, cfg.RateLimitPerMin).
		WithFallback(middleware.NewRateLimitMiddleware(cfg.RateLimitPerMin))
	connectLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, config.ConnectAttemptsPerMin, time.Minute, "connect")
	presenceMiddleware := middleware.NewPresenceMiddleware(registry)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(middleware.DefaultMaxBodySize)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"postgres": db,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	})
	eventsHandler := handler.NewEventsHandler(channelService)
	presenceHandler := handler.NewPresenceHandler(registry)
	messagesHandler := handler.NewMessagesHandler(messageService)
	matchHandler := handler.NewMatchHandler(matchService)
	signalsHandler := handler.NewSignalsHandler(callService, signalQueue)
	signalSocketHandler := handler.NewSignalSocketHandler(
		socketHub, callService, middleware.NewRateLimiter(), cfg.SocketMessagesPerMin,
	)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	// Long-lived streams: no request timeout, per-address connect limit.
	r.Group(func(r chi.Router) {
		r.Use(connectLimitMiddleware.Handler)
		r.Use(authMiddleware.Handler)
		r.Use(presenceMiddleware.Handler)
		r.Get("/v1/events/{userId}", eventsHandler.ServeHTTP)
		r.Get("/ws/signal", signalSocketHandler.ServeHTTP)
	})

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimitMiddleware.Handler)
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Use(presenceMiddleware.Handler)

		r.Mount("/v1/presence", presenceHandler.Routes())
		r.Mount("/v1/messages", messagesHandler.Routes())
		r.Post("/v1/typing", messagesHandler.Typing)
		r.Get("/v1/groups/{groupId}/messages", messagesHandler.GroupHistory)
		r.Mount("/v1/match", matchHandler.Routes())
		r.Mount("/v1/signals", signalsHandler.Routes())
	})

	sweepJob := jobs.NewJob("match-sweep", cfg.MatchSweepInterval(),
		jobs.Task{Name: "pair-waiting", Run: matchService.Sweep},
	)
	sweepJob.Start()
	defer sweepJob.Stop()

	cleanupJob := jobs.NewJob("cleanup", cfg.CleanupInterval(),
		jobs.Task{Name: "stale-waiting", Run: matchService.PurgeStale},
		jobs.Task{Name: "expired-signals", Run: signalQueue.PurgeExpired},
		jobs.Task{Name: "finished-sessions", Run: matchService.PurgeFinished},
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// Streams never finish on their own, so close them before draining.
	sseHub.Close()
	socketHub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
