// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/config"
	"github.com/karhin20/flowback/internal/db"
	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/domain/notification"
	"github.com/karhin20/flowback/internal/domain/template"
	authHandler "github.com/karhin20/flowback/internal/handlers/auth"
	batchHandler "github.com/karhin20/flowback/internal/handlers/batch"
	customerHandler "github.com/karhin20/flowback/internal/handlers/customer"
	ledgerHandler "github.com/karhin20/flowback/internal/handlers/ledger"
	notifyHandler "github.com/karhin20/flowback/internal/handlers/notification"
	templateHandler "github.com/karhin20/flowback/internal/handlers/template"
	wsHandler "github.com/karhin20/flowback/internal/handlers/websocket"
	"github.com/karhin20/flowback/internal/metrics"
	"github.com/karhin20/flowback/internal/middleware"
	"github.com/karhin20/flowback/internal/migration"
	"github.com/karhin20/flowback/internal/pkg/jwt"
	"github.com/karhin20/flowback/internal/pkg/session"
	"github.com/karhin20/flowback/internal/repository/memory"
	"github.com/karhin20/flowback/internal/repository/postgres"
	batchsvc "github.com/karhin20/flowback/internal/service/batch"
	customersvc "github.com/karhin20/flowback/internal/service/customer"
	"github.com/karhin20/flowback/internal/service/ledger"
	notifysvc "github.com/karhin20/flowback/internal/service/notification"
	"github.com/karhin20/flowback/internal/service/sms"
	"github.com/karhin20/flowback/internal/service/status"
	tmpl "github.com/karhin20/flowback/internal/service/template"
	"github.com/karhin20/flowback/internal/service/validator"
	"github.com/karhin20/flowback/internal/websocket"
	wsHandlers "github.com/karhin20/flowback/internal/websocket/handler"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Deps overrides collaborators that are otherwise built from config.
type Deps struct {
	Verifier    middleware.TokenVerifier
	SMSProvider notifysvc.Provider
}

type Server struct {
	cfg     config.AppConfig
	engine  *gin.Engine
	logger  *zap.Logger
	http    *http.Server
	hub     *websocket.Hub
	stopHub context.CancelFunc
	closers []func()
}

type repositories struct {
	txm        customer.TxManager
	customers  customer.Repository
	actions    action.Repository
	templates  template.Repository
	deliveries notification.Repository
}

// NewServer connects storage and wires every service and handler. Call
// Shutdown to release what it opened, including on a failed Start.
func NewServer(ctx context.Context, cfg config.AppConfig, logger *zap.Logger, deps Deps) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}
	if err := s.build(ctx, deps); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context, deps Deps) error {
	cfg := s.cfg
	logger := s.logger
	metrics.Init()

	// ----- Storage -----
	repos, err := s.openStorage(ctx)
	if err != nil {
		return err
	}

	// ----- Redis -----
	var redisClient redis.Cmdable
	if cfg.RedisAddr != "" {
		client, err := db.NewRedisClient(db.RedisConfig{
			Addresses: []string{cfg.RedisAddr},
			Password:  cfg.RedisPass,
			DB:        cfg.RedisDB,
			PoolSize:  10,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		redisClient = client
		logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set, token blacklist and rate limits are kept in process")
	}

	// ----- JWT & Sessions -----
	verifier := deps.Verifier
	if verifier == nil {
		v, err := jwt.LoadVerifier(cfg.JWT)
		if err != nil {
			return fmt.Errorf("failed to load JWT verifier: %w", err)
		}
		verifier = v
	}
	sessionManager := session.NewManager(redisClient)
	rateLimiter := session.NewRateLimiter(redisClient)

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(verifier, sessionManager, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	s.hub, s.stopHub = hub, stopHub
	go hub.Run(hubCtx)

	// ----- Services -----
	provider := deps.SMSProvider
	if provider == nil {
		arkesel := sms.NewArkeselClient(sms.Config{
			BaseURL:  cfg.SMS.BaseURL,
			APIKey:   cfg.SMS.APIKey,
			SenderID: cfg.SMS.SenderID,
			Timeout:  cfg.SMS.Timeout,
		}, logger)
		if !arkesel.Configured() {
			logger.Warn("ARKESEL_API_KEY or ARKESEL_SENDER_ID not set, notifications will fail")
		}
		provider = arkesel
	}

	templateService := tmpl.NewService(repos.templates, logger)
	ledgerService := ledger.NewService(repos.actions, repos.customers, logger)
	statusService := status.NewService(repos.txm, logger)
	dispatcher := notifysvc.NewDispatcher(
		provider,
		repos.customers,
		ledgerService,
		repos.deliveries,
		templateService,
		hub,
		notifysvc.Config{Timeout: cfg.SMS.Timeout, Currency: cfg.SMS.Currency},
		logger,
	)
	customerService := customersvc.NewCustomerService(repos.customers, statusService, dispatcher, hub, logger)
	processor := batchsvc.NewProcessor(
		validator.New(),
		statusService,
		dispatcher,
		hub,
		batchsvc.Config{Workers: cfg.Batch.Workers, MaxRows: cfg.Batch.MaxRows},
		logger,
	)

	hub.RegisterHandler(wsHandlers.NewActionsHandler(ledgerService))

	// ----- Handlers -----
	h := &Handlers{
		AuthHandler:     authHandler.NewAuthHandler(sessionManager, hub, logger),
		CustomerHandler: customerHandler.NewCustomerHandler(customerService, ledgerService, cfg.Batch.Notify),
		LedgerHandler:   ledgerHandler.NewLedgerHandler(ledgerService),
		BatchHandler: batchHandler.NewBatchHandler(
			processor,
			batchHandler.Defaults{CreateMissing: cfg.Batch.CreateMissing, Notify: cfg.Batch.Notify},
			cfg.UploadMaxBytes,
			logger,
		),
		TemplateHandler: templateHandler.NewTemplateHandler(templateService, customerService, cfg.SMS.Currency),
		NotifHandler:    notifyHandler.NewNotificationHandler(dispatcher),
		WSHandler:       wsHandler.NewWebSocketHandler(hub, cfg.CORSAllowedOrigins, logger),
		AuthMiddleware:  middleware.NewAuthMiddleware(verifier, sessionManager, logger),
		RateLimiter:     rateLimiter,
		UploadRateLimit: cfg.UploadRateLimit,
		Health: func() gin.H {
			return gin.H{
				"storage":           cfg.StorageDriver,
				"redis":             redisClient != nil,
				"websocket_clients": hub.TotalClients(),
			}
		},
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.MetricsMiddleware(),
		middleware.CORSMiddleware(cfg.CORSAllowedOrigins),
	)
	SetupRouter(engine, logger, h)
	s.engine = engine

	return nil
}

func (s *Server) openStorage(ctx context.Context) (*repositories, error) {
	switch s.cfg.StorageDriver {
	case DriverMemory:
		store := memory.New()
		s.logger.Warn("using in-memory storage, data is lost on restart")
		return &repositories{
			txm:        store,
			customers:  store.Customers(),
			actions:    store.Actions(),
			templates:  store.Templates(),
			deliveries: store.Deliveries(),
		}, nil

	case DriverPostgres:
		if s.cfg.RunMigrations {
			if err := migration.Run(s.cfg.DatabaseURL, s.logger); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		pool, err := db.ConnectDB(ctx, db.PostgresConfig{URL: s.cfg.DatabaseURL, MaxConns: s.cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		s.logger.Info("postgres connected")
		return &repositories{
			txm:        postgres.NewDB(pool),
			customers:  postgres.NewCustomerRepository(pool),
			actions:    postgres.NewActionRepository(pool),
			templates:  postgres.NewTemplateRepository(pool),
			deliveries: postgres.NewDeliveryRepository(pool),
		}, nil

	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q, use %s or %s", s.cfg.StorageDriver, DriverPostgres, DriverMemory)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server starting", zap.String("addr", s.cfg.HTTPAddr), zap.String("env", s.cfg.Env))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the hub and storage.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.close()
	return err
}

func (s *Server) close() {
	if s.stopHub != nil {
		s.stopHub()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
