// Package server contains the HTTP handlers for the tagapp API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tagapp/internal/cache"
	"tagapp/internal/config"
	"tagapp/internal/middleware"
	"tagapp/internal/models"
	"tagapp/internal/notifications"
	"tagapp/internal/observability"
	"tagapp/internal/service"
	"tagapp/internal/store"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

const defaultOrigins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	store          store.Store
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	notifier           *notifications.Notifier
	propagator         *service.Propagator
	postService        *service.PostService
	commentService     *service.CommentService
	interactionService *service.InteractionService
	userService        *service.UserService
	rankService        *service.RankService
	inboxService       *service.InboxService
}

// NewServer connects Redis and the configured record store and wires the
// services on top of them. Redis is optional unless it is the store driver.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	rdb, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		if cfg.StoreDriver == config.DriverRedis {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		observability.Logger.Warn("redis unavailable, live pushes and rate limits disabled",
			slog.String("error", err.Error()))
		rdb = nil
	}

	st, err := store.Open(ctx, cfg, rdb)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, fmt.Errorf("record store open failed: %w", err)
	}
	return NewServerWithDeps(cfg, st, rdb), nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// rdb may be nil.
func NewServerWithDeps(cfg *config.Config, st store.Store, rdb *redis.Client) *Server {
	s := &Server{
		config:         cfg,
		store:          st,
		redis:          rdb,
		promMiddleware: middleware.InitMetrics("tagapp-api"),
	}

	var publisher service.Publisher
	if rdb != nil {
		s.notifier = notifications.NewNotifier(rdb)
		publisher = s.notifier
	}

	svc := service.NewServices(st, publisher, service.PropagatorConfigFrom(cfg))
	s.propagator = svc.Propagator
	s.postService = svc.Posts
	s.commentService = svc.Comments
	s.interactionService = svc.Interactions
	s.userService = svc.Users
	s.rankService = svc.Rank
	s.inboxService = svc.Inbox
	return s
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "tagapp API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			observability.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if strings.TrimSpace(origins) == "" {
		origins = defaultOrigins
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, " + middleware.UserIDHeader,
		MaxAge:       86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || strings.HasPrefix(c.Path(), "/health")
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	env := s.config.Env

	users := api.Group("/users")
	users.Post("/", middleware.RateLimit(s.redis, env, 5, 10*time.Minute, "register"), s.Register)
	users.Get("/:id/posts", s.GetUserPosts)
	users.Get("/:id/rank", s.GetUserRank)
	users.Get("/:id/inbox", s.GetInbox)
	users.Get("/:id", s.GetUser)
	users.Put("/:id", s.UpdateProfile)

	posts := api.Group("/posts")
	posts.Get("/", s.GetPosts)
	posts.Post("/", middleware.RateLimit(s.redis, env, 10, time.Minute, "create_post"), s.CreatePost)
	posts.Post("/:id/like", s.Interact(service.ActionLike))
	posts.Post("/:id/unlike", s.Interact(service.ActionUnlike))
	posts.Post("/:id/save", s.Interact(service.ActionSave))
	posts.Post("/:id/unsave", s.Interact(service.ActionUnsave))
	posts.Post("/:id/comments", middleware.RateLimit(s.redis, env, 30, time.Minute, "create_comment"), s.CreateComment)
	posts.Get("/:id", s.GetPost)

	communities := api.Group("/communities")
	communities.Get("/", s.GetCommunities)
	communities.Get("/:name/posts", s.GetCommunityPosts)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings the record store and, when configured, Redis.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if err := s.store.Ping(ctx); err != nil {
		storeStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	// a configured Redis must answer
	if storeStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"store":  storeStatus,
			"driver": s.config.StoreDriver,
			"redis":  redisStatus,
		},
		"time": time.Now(),
	})
}

// StartBackground launches the propagation worker and, with Redis, the
// cross-process propagation subscriber. It is stopped by Shutdown.
func (s *Server) StartBackground() {
	if s.shutdownFn != nil {
		return
	}
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())
	s.propagator.Start(s.shutdownCtx)

	if s.notifier != nil {
		if err := s.notifier.StartPropagationSubscriber(s.shutdownCtx, s.propagator.Signal); err != nil {
			observability.Logger.Warn("propagation subscriber not started", slog.String("error", err.Error()))
		}
	}
}

// Start starts the server and blocks until it stops listening.
func (s *Server) Start() error {
	s.StartBackground()
	s.app = s.NewApp()

	observability.Logger.Info("server starting",
		slog.String("port", s.config.Port),
		slog.String("store_driver", s.config.StoreDriver),
		slog.String("propagation_mode", s.config.PropagationMode),
	)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if s.shutdownFn != nil {
		s.shutdownFn()
		select {
		case <-s.propagator.Done():
		case <-ctx.Done():
			observability.Logger.Warn("propagation worker did not stop before shutdown deadline")
		}
	}

	// The redis driver closes the shared client itself.
	if err := s.store.Close(); err != nil {
		observability.Logger.Error("error closing record store", slog.String("error", err.Error()))
	}
	if s.redis != nil && s.config.StoreDriver != config.DriverRedis {
		if err := s.redis.Close(); err != nil {
			observability.Logger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}

	observability.Logger.Info("server shutdown complete")
	return nil
}
