package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-live-service/internal/domain"
	pgstore "quiz-live-service/internal/infra/postgres"
	pgmigrations "quiz-live-service/internal/infra/postgres/migrations"
	redisstore "quiz-live-service/internal/infra/redis"
	"quiz-live-service/internal/runtime"
)

func TestSnapshotLoadEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	started := time.Now().Add(-3 * time.Second)
	seedSession(t, ctx, pgURL, started)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	var query runtime.SessionQuery = pgstore.NewSessionQuery(pool)
	query = redisstore.NewCachedSessionQuery(redisClient, query, 5*time.Minute)

	session, err := query.SessionByCode(ctx, "ABC123")
	if err != nil {
		t.Fatalf("session by code: %v", err)
	}
	if session.ID != "session-1" || session.TotalQuestions != 2 {
		t.Fatalf("unexpected session: %+v", session)
	}
	if !session.ShowLeaderboardAfterQuestion || session.ShowLeaderboardAtEndOnly {
		t.Fatalf("leaderboard policy lost in load: %+v", session)
	}

	// Second read comes from the Redis cache; both must agree.
	for i := 0; i < 2; i++ {
		questions, err := query.QuestionsBySession(ctx, "session-1")
		if err != nil {
			t.Fatalf("questions read %d: %v", i, err)
		}
		if len(questions) != 2 || questions[0].ID != "q1" || questions[1].Number != 2 {
			t.Fatalf("unexpected questions on read %d: %+v", i, questions)
		}
	}

	count, err := query.ParticipantCount(ctx, "session-1")
	if err != nil || count != 2 {
		t.Fatalf("participant count: %d %v", count, err)
	}

	loader := runtime.NewSnapshotLoader(query, runtime.KindPollSurvey, runtime.DefaultLoaderConfig(), clockwork.NewRealClock())
	result, err := loader.Load(ctx, "ABC123")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.Entry != runtime.EntryStartNow {
		t.Fatalf("start 3s ago within grace should start now, got %v", result.Entry)
	}
	if result.InitialTimer.QuestionID != "q1" || result.InitialTimer.Total != 30 {
		t.Fatalf("unexpected initial timer: %+v", result.InitialTimer)
	}

	if _, err := query.SessionByCode(ctx, "NOPE"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLeaderboardEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, cleanup := startRedis(t, ctx)
	defer cleanup()

	client, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	lb := redisstore.NewLeaderboard(client, 5*time.Minute)
	if err := lb.AddScore(ctx, "ABC123", "u1", "Ann", 5); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := lb.AddScore(ctx, "ABC123", "u2", "Bob", 9); err != nil {
		t.Fatalf("add: %v", err)
	}

	board, err := lb.Fetch(ctx, "ABC123")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(board.Entries) != 2 || board.Entries[0].ParticipantID != "u2" {
		t.Fatalf("unexpected board: %+v", board.Entries)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedSession(t *testing.T, ctx context.Context, dsn string, startedAt time.Time) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO sessions (id, code, quiz_id, status, started_at, show_leaderboard_after_question)
		 VALUES (?, ?, ?, ?, ?, TRUE)`,
		"session-1", "ABC123", "quiz-1", string(domain.StatusActive), startedAt,
	); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	for _, q := range []struct {
		id     string
		number int
		text   string
		timer  int
	}{
		{"q1", 1, "What is 2 + 2?", 30},
		{"q2", 2, "What is the capital of France?", 20},
	} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO questions (id, session_id, number, text, timer_seconds) VALUES (?, ?, ?, ?, ?)`,
			q.id, "session-1", q.number, q.text, q.timer,
		); err != nil {
			t.Fatalf("insert question %s: %v", q.id, err)
		}
	}
	for _, p := range []struct{ id, name string }{{"u1", "Ann"}, {"u2", "Bob"}} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO participants (session_id, participant_id, display_name) VALUES (?, ?, ?)`,
			"session-1", p.id, p.name,
		); err != nil {
			t.Fatalf("insert participant %s: %v", p.id, err)
		}
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
