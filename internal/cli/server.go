package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"district-quiz-service/internal/app"
	"district-quiz-service/internal/config"
	"district-quiz-service/internal/domain"
	"district-quiz-service/internal/infra/memory"
	pgstore "district-quiz-service/internal/infra/postgres"
	redisboard "district-quiz-service/internal/infra/redis"
	transport "district-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
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
	boardTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Second)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	catalogue, err := loadCatalogue(ctx, cfg, pool)
	if err != nil {
		return err
	}

	// A catalogue without four distinct provinces is a fatal startup error.
	gen, err := app.NewGenerator(catalogue)
	if err != nil {
		return err
	}

	var users app.UserRepository
	var source memory.LeaderboardSource
	if pool != nil {
		store := pgstore.NewUserStore(pool)
		users = store
		source = store
	} else {
		store := memory.NewUserStore()
		users = store
		source = store
	}

	var board app.LeaderboardQuery
	if redisClient != nil {
		board = redisboard.NewLeaderboardCache(redisClient, source, boardTTL)
	} else {
		board = memory.NewLeaderboardCache(source, boardTTL)
	}

	games := memory.NewGameStore(nil)
	service := app.NewGameService(users, board, games, gen, app.Config{
		SessionSeconds:   cfg.Game.SessionSeconds,
		DailyGameLimit:   cfg.Game.DailyGameLimit,
		PointsPerCorrect: cfg.Game.PointsPerCorrect,
		CorrectDelay:     config.TTLDuration(cfg.Game.CorrectDelay, 600*time.Millisecond),
		WrongDelay:       config.TTLDuration(cfg.Game.WrongDelay, 1200*time.Millisecond),
		LeaderboardSize:  cfg.Game.LeaderboardSize,
	})
	wsHandler := transport.NewWSHandler(service)

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
		log.Printf("starting district quiz service on :%s", finalPort)
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

// loadCatalogue prefers a YAML catalogue file, then the districts table, then
// the built-in sample.
func loadCatalogue(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (domain.Catalogue, error) {
	if cfg.Catalogue.Path != "" {
		data, err := os.ReadFile(cfg.Catalogue.Path)
		if err != nil {
			return nil, err
		}
		var catalogue domain.Catalogue
		if err := yaml.Unmarshal(data, &catalogue); err != nil {
			return nil, err
		}
		return catalogue, nil
	}
	if pool != nil {
		catalogue, err := pgstore.LoadCatalogue(ctx, pool)
		if err != nil {
			return nil, err
		}
		if len(catalogue) > 0 {
			return catalogue, nil
		}
		log.Printf("districts table empty, using built-in sample catalogue")
	}
	return sampleCatalogue(), nil
}

// sampleCatalogue provides a small built-in district set; configure a
// catalogue file or seed the districts table for the full game.
func sampleCatalogue() domain.Catalogue {
	return domain.Catalogue{
		{District: "Kadıköy", Province: "İstanbul"},
		{District: "Beşiktaş", Province: "İstanbul"},
		{District: "Üsküdar", Province: "İstanbul"},
		{District: "Çankaya", Province: "Ankara"},
		{District: "Keçiören", Province: "Ankara"},
		{District: "Polatlı", Province: "Ankara"},
		{District: "Konak", Province: "İzmir"},
		{District: "Bornova", Province: "İzmir"},
		{District: "Karşıyaka", Province: "İzmir"},
		{District: "Nilüfer", Province: "Bursa"},
		{District: "İnegöl", Province: "Bursa"},
		{District: "Gemlik", Province: "Bursa"},
		{District: "Muratpaşa", Province: "Antalya"},
		{District: "Alanya", Province: "Antalya"},
		{District: "Manavgat", Province: "Antalya"},
		{District: "Seyhan", Province: "Adana"},
		{District: "Ceyhan", Province: "Adana"},
		{District: "Selçuklu", Province: "Konya"},
		{District: "Ereğli", Province: "Konya"},
		{District: "Akşehir", Province: "Konya"},
		{District: "Şahinbey", Province: "Gaziantep"},
		{District: "Nizip", Province: "Gaziantep"},
		{District: "Atakum", Province: "Samsun"},
		{District: "Bafra", Province: "Samsun"},
	}
}
