package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/expense-approval/api"
	"github.com/frahmantamala/expense-approval/internal"
	auditPostgres "github.com/frahmantamala/expense-approval/internal/audit/postgres"
	"github.com/frahmantamala/expense-approval/internal/auth"
	authPostgres "github.com/frahmantamala/expense-approval/internal/auth/postgres"
	"github.com/frahmantamala/expense-approval/internal/category"
	categoryPostgres "github.com/frahmantamala/expense-approval/internal/category/postgres"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/core/metrics"
	"github.com/frahmantamala/expense-approval/internal/expense"
	expensePostgres "github.com/frahmantamala/expense-approval/internal/expense/postgres"
	"github.com/frahmantamala/expense-approval/internal/finance"
	"github.com/frahmantamala/expense-approval/internal/linking"
	linkingPostgres "github.com/frahmantamala/expense-approval/internal/linking/postgres"
	"github.com/frahmantamala/expense-approval/internal/organization"
	orgPostgres "github.com/frahmantamala/expense-approval/internal/organization/postgres"
	"github.com/frahmantamala/expense-approval/internal/ratelimit"
	"github.com/frahmantamala/expense-approval/internal/storage"
	"github.com/frahmantamala/expense-approval/internal/transport/rest"
	"github.com/frahmantamala/expense-approval/internal/user"
	userPostgres "github.com/frahmantamala/expense-approval/internal/user/postgres"
	"github.com/frahmantamala/expense-approval/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config  *internal.Config
	DB      *sqlx.DB
	Gorm    *gorm.DB
	Redis   *redis.Client
	Store   storage.Store
	Bus     *events.EventBus
	Metrics *metrics.Recorder
	Router  *chi.Mux
	Logger  *slog.Logger
}

// Services is the wired domain layer shared by the HTTP server and the CLI commands.
type Services struct {
	Auth         *auth.Service
	User         *user.Service
	Category     *category.Service
	Organization *organization.Service
	Expense      *expense.Service
	Finance      *finance.Service
	Linking      *linking.Service
}

func startHTTPServer() {
	ctx := context.Background()
	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	services := buildServices(deps)
	registerSubscribers(deps.Bus, services.Linking, deps.Logger)

	if err := setupRoutes(deps, services); err != nil {
		deps.Logger.Error("Failed to register routes", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           http.TimeoutHandler(deps.Router, requestTimeout(deps.Config.Server), `{"success":false,"error":"request timed out"}`),
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.Bus.Drain(shutdownCtx); err != nil {
			deps.Logger.Warn("event handlers still running at shutdown", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			deps.close()
			os.Exit(1)
		}
	}

	deps.close()
	deps.Logger.Info("Server stopped")
}

func requestTimeout(cfg internal.ServerConfig) time.Duration {
	if cfg.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return cfg.RequestTimeout
}

func (d *Dependencies) close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

func setupRoutes(deps *Dependencies, svc *Services) error {
	cfg := deps.Config

	opts := rest.Options{
		DB:             deps.DB.DB,
		AllowedOrigins: cfg.Server.Origins(),
		OpenAPISpec:    api.OpenAPISpec,
		BaseURL:        cfg.Server.BaseURL,
		Logger:         deps.Logger,
	}
	if deps.Redis != nil {
		opts.Redis = deps.Redis
		if cfg.RateLimit.Enabled {
			opts.Limiter = ratelimit.NewLimiter(deps.Redis, cfg.RateLimit.Requests, cfg.RateLimit.Window, deps.Logger)
		}
	} else if cfg.RateLimit.Enabled {
		deps.Logger.Warn("rate limiting enabled but redis is unreachable; requests will not be throttled")
	}
	if cfg.Observability.Metrics.Enabled {
		opts.Metrics = deps.Metrics
		opts.MetricsPath = cfg.Observability.Metrics.Path
	}

	return rest.RegisterAllRoutes(deps.Router, rest.Handlers{
		Auth:         auth.NewHandler(svc.Auth),
		User:         user.NewHandler(svc.User),
		Category:     category.NewHandler(svc.Category),
		Organization: organization.NewHandler(svc.Organization),
		Expense:      expense.NewHandler(svc.Expense),
		Finance:      finance.NewHandler(svc.Finance),
		Linking:      linking.NewHandler(svc.Linking),
	}, opts)
}

func buildServices(deps *Dependencies) *Services {
	cfg := deps.Config
	lg := deps.Logger

	orgRepo := orgPostgres.NewOrganizationRepository(deps.Gorm)
	gate := organization.NewGate(orgRepo, lg)
	orgService := organization.NewService(orgRepo, gate, deps.Bus, lg)

	categoryService := category.NewService(categoryPostgres.NewCategoryRepository(deps.Gorm), lg)

	expenseRepo := expensePostgres.NewExpenseRepository(deps.Gorm)
	expenseService := expense.NewService(expenseRepo, gate, categoryService, deps.Store, deps.Bus, deps.Metrics, lg)

	financeService := finance.NewService(
		finance.NewQuery(deps.DB),
		orgService,
		gate,
		expenseRepo,
		auditPostgres.NewEventRepository(deps.Gorm),
		deps.Bus,
		deps.Metrics,
		lg,
	)

	tokens := auth.NewJWTTokenGenerator(
		cfg.Security.AccessTokenSecret,
		cfg.Security.RefreshTokenSecret,
		cfg.Security.AccessTokenDuration,
		cfg.Security.RefreshTokenDuration,
	)

	return &Services{
		Auth:         auth.NewService(authPostgres.NewRepository(deps.Gorm), tokens, cfg.Security.BCryptCost, lg),
		User:         user.NewService(userPostgres.NewRepository(deps.Gorm), lg),
		Category:     categoryService,
		Organization: orgService,
		Expense:      expenseService,
		Finance:      financeService,
		Linking:      linking.NewService(linkingPostgres.NewNotificationRepository(deps.Gorm), gate, lg),
	}
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	initLogger(config)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db.DB)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	store, err := storage.Open(ctx, config.Storage)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var rdb *redis.Client
	if config.Redis.Addr != "" {
		rdb = ratelimit.NewClient(ctx, config.Redis.Addr, config.Redis.Password, config.Redis.DB, lg)
	}

	return &Dependencies{
		Config:  config,
		DB:      db,
		Gorm:    gormDB,
		Redis:   rdb,
		Store:   store,
		Bus:     events.NewEventBus(lg),
		Metrics: metrics.NewRecorder(),
		Router:  chi.NewRouter(),
		Logger:  lg,
	}, nil
}

// initDB opens the pgx pool shared by sqlx (finance reads) and gorm (everything else).
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

func initGorm(sqlDB *sql.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
}
