// Package app wires configuration, storage, queues, the gateway and
// the HTTP surface into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/publora/core/internal/config"
	"github.com/publora/core/internal/database"
	"github.com/publora/core/internal/middleware"
	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/modules/account"
	"github.com/publora/core/internal/modules/activity"
	"github.com/publora/core/internal/modules/content"
	"github.com/publora/core/internal/modules/credential"
	"github.com/publora/core/internal/modules/gateway"
	"github.com/publora/core/internal/modules/media"
	"github.com/publora/core/internal/modules/platform"
	"github.com/publora/core/internal/modules/platform/facebook"
	"github.com/publora/core/internal/modules/platform/instagram"
	"github.com/publora/core/internal/modules/publish"
	pkgcron "github.com/publora/core/internal/pkg/cron"
	"github.com/publora/core/internal/pkg/graph"
	jwtpkg "github.com/publora/core/internal/pkg/jwt"
	"github.com/publora/core/internal/pkg/queue"
	pkgredis "github.com/publora/core/internal/pkg/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	logger *zap.Logger
	cancel context.CancelFunc

	hub        *gateway.Hub
	sched      *pkgcron.Scheduler
	publishSvc *publish.Service
	contentSvc *content.Service
	accountSvc *account.Service
	auditSvc   *activity.Service
	resolver   *media.S3Resolver
	queues     []*queue.Queue
}

// New initializes the application: config → DB → Redis → queues → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	jwtpkg.SetSecret(cfg.JWTSecret)

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))

	app := &App{
		cfg:    cfg,
		router: router,
		db:     db,
		rc:     rc,
		logger: logger,
	}
	app.buildServices()

	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	go app.hub.Run(ctx)
	for _, q := range app.queues {
		go q.Run(ctx)
	}

	app.sched = pkgcron.New()
	app.registerCronJobs()
	go app.sched.Start(ctx)

	app.registerRoutes()
	return app, nil
}

func (a *App) buildServices() {
	logger := a.logger

	graphClient := graph.New(a.cfg.Graph.BaseURL, a.cfg.Graph.Version)

	a.hub = gateway.NewHub(a.rc, logger.Named("gateway"), func(token string) (string, bool) {
		userID, err := middleware.ValidateToken(a.db, token)
		return userID, err == nil
	})

	a.auditSvc = activity.NewService(a.db, logger.Named("activity"))
	a.accountSvc = account.NewService(a.db, logger.Named("account"))
	a.contentSvc = content.NewService(a.db)

	var resolver media.Resolver
	if s3Resolver, err := media.NewS3Resolver(a.cfg.S3); err == nil {
		a.resolver = s3Resolver
		resolver = s3Resolver
	} else {
		logger.Warn("object storage not configured, media references must be absolute URLs", zap.Error(err))
		resolver = media.URLResolver{}
	}

	credMgr := credential.NewManager(
		credential.NewStore(a.db),
		credential.NewGraphRefresher(graphClient, a.cfg.Graph.AppID, a.cfg.Graph.AppSecret),
		logger.Named("credential"),
	)

	pubs := publish.NewPublicationStore(a.db)
	dir := publish.NewDirectory(a.db)

	worker := publish.NewWorker(pubs, dir, credMgr, resolver,
		map[models.Platform]platform.Publisher{
			models.PlatformInstagram: instagram.New(graphClient, logger.Named("instagram")),
			models.PlatformFacebook:  facebook.New(graphClient, logger.Named("facebook")),
		},
		a.auditSvc, a.hub, a.cfg.Queue.MaxAttempts, logger.Named("worker"))

	opts := queue.Options{
		Concurrency: a.cfg.Queue.Concurrency,
		MaxAttempts: a.cfg.Queue.MaxAttempts,
		Backoff:     time.Duration(a.cfg.Queue.BackoffSeconds) * time.Second,
		Visibility:  time.Duration(a.cfg.Queue.VisibilitySeconds) * time.Second,
	}
	igQueue := queue.New("publish:instagram", a.rc, worker.Handle, opts, logger.Named("queue"))
	fbQueue := queue.New("publish:facebook", a.rc, worker.Handle, opts, logger.Named("queue"))
	a.queues = []*queue.Queue{igQueue, fbQueue}

	a.publishSvc = publish.NewService(pubs, dir,
		map[models.Platform]publish.JobQueue{
			models.PlatformInstagram: igQueue,
			models.PlatformFacebook:  fbQueue,
		},
		a.auditSvc, a.hub, logger.Named("publish"))
}

func corsConfig(cfg *config.AppConfig) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "x-idempotence"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		corsCfg.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	}
	return corsCfg
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background goroutines. In-flight queue attempts
// finish before their consumers exit.
func (a *App) Shutdown() { a.cancel() }
