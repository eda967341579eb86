package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studyquiz-service/internal/app"
	"studyquiz-service/internal/config"
	"studyquiz-service/internal/domain"
	"studyquiz-service/internal/infra/memory"
	pgstore "studyquiz-service/internal/infra/postgres"
	redisstore "studyquiz-service/internal/infra/redis"
	transport "studyquiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
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
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestionSets())
	if pool != nil {
		loader = pgstore.NewQuestionLoader(pool)
	}

	cacheTTL := config.TTLDuration(cfg.Questions.CacheTTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisstore.NewQuestionRepository(redisClient, loader, cacheTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, cacheTTL)
	}

	var results app.ResultSubmitter = memory.NewResultStore()
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()
		results = pgstore.NewResultStore(db)
	}

	var qbank app.QBankStore = memory.NewQBankStore()
	if redisClient != nil {
		qbank = redisstore.NewQBankStore(redisClient)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisstore.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	service := app.NewSessionService(store, questions, results, qbank, app.DefaultScoringConfig())
	hub := transport.NewLobbyHub()
	wsHandler := transport.NewWSHandler(service, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting studyquiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionSets provides minimal demo content; production runs load
// from Postgres instead.
func sampleQuestionSets() map[string]map[string][]domain.Question {
	return map[string]map[string][]domain.Question{
		"math": {
			"algebra": {
				{
					ID:      "alg-1",
					TopicID: "linear-equations",
					Prompt:  "Solve: 2x + 3 = 11",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
						{ID: "o4", Text: "6", Correct: false},
					},
					TimerSeconds: 30,
					Points:       40,
				},
				{
					ID:      "alg-2",
					TopicID: "linear-equations",
					Prompt:  "Solve: x - 7 = 2",
					Options: []domain.Option{
						{ID: "o1", Text: "5", Correct: false},
						{ID: "o2", Text: "7", Correct: false},
						{ID: "o3", Text: "9", Correct: true},
						{ID: "o4", Text: "11", Correct: false},
					},
					TimerSeconds: 30,
					Points:       40,
				},
			},
		},
	}
}
