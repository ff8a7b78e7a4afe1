package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bilireply/autoreply"
	"bilireply/config"
	"bilireply/controllers"
	dbpkg "bilireply/db"
	"bilireply/models"
	"bilireply/router"
	"bilireply/tools"
	"bilireply/workers"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type app struct {
	cfg          config.Configuration
	db           *gorm.DB
	client       tools.BilibiliClient
	orchestrator *autoreply.Orchestrator
	logFile      *os.File
}

func setupLog(path string) *os.File {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("log file %s: %v (stdout only)", path, err)
		return nil
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return f
}

func bootstrap(configPath string) (*app, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logFile := setupLog(cfg.LogPath)

	dbpkg.SetConfigurations(cfg)
	database, err := dbpkg.Connect()
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	client := tools.BilibiliClient{
		PassportBaseURL: cfg.Bilibili.PassportBaseURL,
		APIBaseURL:      cfg.Bilibili.APIBaseURL,
		VCBaseURL:       cfg.Bilibili.VCBaseURL,
		UserAgent:       cfg.Bilibili.UserAgent,
		Timeout:         time.Duration(cfg.Bilibili.TimeoutSeconds) * time.Second,
		Proxy:           controllers.ProxyResolver(database, 10*time.Second),
	}

	orchestrator := autoreply.New(
		client,
		autoreply.NewGormStore(database),
		autoreply.NewGormLocker(database),
		autoreply.Options{
			DefaultMode:   cfg.AutoReply.Mode,
			RecencyWindow: time.Duration(cfg.AutoReply.RecencyWindowSeconds) * time.Second,
			HistoryLimit:  cfg.AutoReply.HistoryLimit,
			LockTTL:       time.Duration(cfg.AutoReply.LockTTLSeconds) * time.Second,
		},
	)

	return &app{cfg: cfg, db: database, client: client, orchestrator: orchestrator, logFile: logFile}, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the auto-reply timer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	controllers.Configure(controllers.Deps{
		Config:    a.cfg,
		Bilibili:  a.client,
		AutoReply: a.orchestrator,
	})

	if !a.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(dbpkg.SetDBtoContext(a.db))
	router.Initialize(engine, a.cfg)

	if a.cfg.AutoReply.WorkerEnabled {
		tick := time.Duration(a.cfg.AutoReply.TickSeconds) * time.Second
		workers.NewAutoReplyWorker(a.db, a.orchestrator, tick).Start(ctx)
		log.Printf("auto-reply worker: started (tick %s)", tick)
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.ApiPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("bilireply listening on :%s", a.cfg.ApiPort)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newPassCommand(configPath *string) *cobra.Command {
	var (
		userID int64
		mode   string
	)
	cmd := &cobra.Command{
		Use:     "pass",
		Short:   "Run one auto-reply pass for a user and print the report",
		Args:    cobra.NoArgs,
		Example: "  bilireply pass --user-id 1\n  bilireply pass --user-id 1 --mode history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return errors.New("--user-id is required")
			}
			if mode != "" && !models.IsValidAutoReplyMode(mode) {
				return fmt.Errorf("invalid --mode %q (latest|history)", mode)
			}

			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var user models.User
			if err := a.db.First(&user, userID).Error; err != nil {
				return fmt.Errorf("user %d: %w", userID, err)
			}

			report, err := a.orchestrator.Run(cmd.Context(), user, autoreply.RunOptions{
				Trigger: models.PASS_TRIGGER_CLI,
				Mode:    mode,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "local user id")
	cmd.Flags().StringVar(&mode, "mode", "", "latest or history (default from config)")
	return cmd
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := dbpkg.Migrate(a.db); err != nil {
				return err
			}
			log.Println("db: migrated")
			return nil
		},
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "bilireply",
		Short:         "Keyword auto-reply for Bilibili private messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		// no subcommand means serve
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the JSON config file")

	cmd.AddCommand(
		newServeCommand(&configPath),
		newPassCommand(&configPath),
		newMigrateCommand(&configPath),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Printf("error: %v", err)
		stop()
		os.Exit(1)
	}
}
