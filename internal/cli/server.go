package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quiz-live-service/internal/config"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/hub"
	"quiz-live-service/internal/infra/memory"
	pgstore "quiz-live-service/internal/infra/postgres"
	redisstore "quiz-live-service/internal/infra/redis"
	"quiz-live-service/internal/runtime"
	transport "quiz-live-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the relay server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var query runtime.SessionQuery = seedQuery()
	if pool != nil {
		query = pgstore.NewSessionQuery(pool)
	}
	if redisClient != nil {
		questionTTL := config.TTLDuration(cfg.Session.QuestionSetTTL, 10*time.Minute)
		query = redisstore.NewCachedSessionQuery(redisClient, query, questionTTL)
	}

	fallbackSettings := domain.LeaderboardSettings{
		ShowAtEndOnly:          true,
		DisplayDurationSeconds: int(config.TTLDuration(cfg.Session.LeaderboardHold, 5*time.Second).Seconds()),
	}
	var settings hub.SettingsStore = memory.NewSettingsStore(fallbackSettings)
	var leaderboard hub.LeaderboardSource = memory.NewLeaderboard()
	var liveness hub.Liveness
	if redisClient != nil {
		settings = redisstore.NewSettingsStore(redisClient, fallbackSettings)
		leaderboard = redisstore.NewLeaderboard(redisClient, redisTTL)
		liveness = redisstore.NewLiveness(redisClient, redisTTL)
	}

	sessionHub := hub.New(hub.DefaultConfig(), settings, leaderboard, liveness)
	wsHandler := transport.NewWSHandler(sessionHub)
	sessionHandler := transport.NewSessionHandler(query, sessionHub)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	sessionHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting live session relay")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedQuery provides a minimal in-memory session so the relay can run
// without a database; swap in Postgres for real deployments.
func seedQuery() *memory.SessionQuery {
	query := memory.NewSessionQuery()
	query.PutSession(
		domain.Session{
			ID:     "session-1",
			Code:   "DEMO01",
			QuizID: "quiz-1",
			Status: domain.StatusScheduled,
		},
		[]domain.Question{
			{ID: "q1", Number: 1, Text: "What is 2 + 2?", TimerSeconds: 30},
			{ID: "q2", Number: 2, Text: "What is the capital of France?", TimerSeconds: 30},
		},
	)
	return query
}
