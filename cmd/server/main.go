package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/server"
	"github.com/maheshrc27/postflow/pkg/logger"
	"github.com/maheshrc27/postflow/pkg/utils"
)

var (
	version   = "0.1.0"
	gitCommit = "unknown"
	buildTime = "unknown"

	migrateDown  bool
	tokenService string
	tokenTTL     time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "postflow",
	Short:        "Postflow - scheduled publishing to social platforms",
	Long:         `Postflow schedules approved posts and publishes them to Facebook, Instagram, TikTok and YouTube, retrying transient failures.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ops API, the publish worker and the background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(server.Mode{API: true, Worker: true})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the publish worker and the background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(server.Mode{Worker: true})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the ops API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.SecretKey == "" {
			return fmt.Errorf("SECRET_KEY is not set")
		}
		token, err := utils.GenerateToken(cfg.SecretKey, tokenService, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a TOKEN_ENCRYPTION_KEY",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := utils.GenerateEncryptionKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Postflow %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the most recent migration")
	tokenCmd.Flags().StringVar(&tokenService, "service", "ops", "service name carried in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd, tokenCmd, keygenCmd, versionCmd)
}

func setup() (*config.Config, *zap.Logger, *sql.DB, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.PostgresURI == "" {
		return nil, nil, nil, fmt.Errorf("POSTGRES_URI is not set")
	}
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("database is unreachable: %w", err)
	}
	return cfg, appLogger, db, nil
}

func run(mode server.Mode) error {
	cfg, appLogger, db, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()
	defer closeDB(appLogger, db)

	appLogger.Info("Starting postflow",
		zap.String("version", version),
		zap.Bool("api", mode.API),
		zap.Bool("worker", mode.Worker),
		zap.String("queue_backend", cfg.Queue.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, db, mode, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Close(shutdownCtx); err != nil {
		appLogger.Error("Failed to release resources", zap.Error(err))
	}

	appLogger.Info("Server shutdown complete.")
	return runErr
}

func runMigrate(*cobra.Command, []string) error {
	_, appLogger, db, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()
	defer closeDB(appLogger, db)

	ctx := context.Background()
	if migrateDown {
		return repository.MigrateDown(ctx, db, appLogger)
	}
	return repository.Migrate(ctx, db, appLogger)
}

func closeDB(log *zap.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Error("Failed to close database", zap.Error(err))
		return
	}
	log.Info("Database connection closed")
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
