package app

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dm-backend/internal/config"
	"dm-backend/internal/db"
	"dm-backend/internal/handlers"
	"dm-backend/internal/logger"
	"dm-backend/internal/models"
	"dm-backend/internal/services"
	"dm-backend/internal/store"
)

func Run() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Development())
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	// Store selection: PostgreSQL when configured, in-memory otherwise
	// (development convenience; state does not survive restarts).
	var st store.Store
	var typingStore store.TypingStore
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			zlog.Fatalw("database connect", "error", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			zlog.Fatalw("database migrate", "error", err)
		}
		pg := store.NewPostgres(pool)
		st, typingStore = pg, pg
		zlog.Info("connected to PostgreSQL")
	} else {
		mem := store.NewMemory()
		st, typingStore = mem, mem
		zlog.Warn("DATABASE_URL not set, using in-memory store")
	}

	// Typing marks can live in Redis instead of the primary store.
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zlog.Fatalw("redis connect", "error", err)
		}
		typingStore = store.NewRedisTyping(rdb, cfg.RedisPrefix)
		zlog.Info("typing indicators backed by Redis")
	}

	// Services
	userService := services.NewUserService(st, zlog)
	readTracker := services.NewReadTracker(st)
	convService := services.NewConversationService(st, readTracker, zlog)
	msgService := services.NewMessageService(st, typingStore, zlog)
	typingService := services.NewTypingService(st, typingStore)
	authService := services.NewAuthService(userService, st, cfg.JWTSecret, zlog)
	hub := handlers.NewConnManager(zlog)

	app := fiber.New()
	app.Use(fiberlogger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")

	// Public routes
	api.Post("/auth/register", func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		res, err := authService.Register(c.Context(), req)
		if err != nil {
			if errors.Is(err, services.ErrEmailTaken) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "email already registered"})
			}
			return fail(c, zlog, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	api.Post("/auth/login", func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		res, err := authService.Login(c.Context(), req)
		if err != nil {
			if errors.Is(err, services.ErrInvalidCredentials) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
			}
			return fail(c, zlog, err)
		}
		return c.JSON(res)
	})

	api.Post("/auth/refresh", func(c *fiber.Ctx) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.BodyParser(&body); err != nil || body.RefreshToken == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "refresh_token required"})
		}
		res, err := authService.Refresh(c.Context(), body.RefreshToken)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid refresh token"})
		}
		return c.JSON(res)
	})

	// Identity provider webhook (user.created / user.updated)
	app.Post("/webhooks/identity", handlers.IdentityWebhookHandler(userService, cfg.WebhookSecret, zlog))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Protected routes
	protected := api.Group("/", handlers.AuthMiddleware(authService, userService))

	protected.Get("/users", func(c *fiber.Ctx) error {
		users, err := userService.Search(c.Context(), handlers.CallerID(c), c.Query("search"))
		if err != nil {
			if errors.Is(err, services.ErrUnauthenticated) {
				return c.JSON([]*models.User{})
			}
			return fail(c, zlog, err)
		}
		return c.JSON(users)
	})

	protected.Get("/users/me", func(c *fiber.Ctx) error {
		callerID := handlers.CallerID(c)
		if callerID == "" {
			return c.JSON(nil)
		}
		u, err := userService.Get(c.Context(), callerID)
		if err != nil {
			return fail(c, zlog, err)
		}
		return c.JSON(u)
	})

	protected.Post("/presence", func(c *fiber.Ctx) error {
		var req models.PresenceRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		externalID, _ := c.Locals("external_id").(string)
		if err := userService.SetPresence(c.Context(), externalID, req.IsOnline); err != nil {
			return fail(c, zlog, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	protected.Post("/conversations", func(c *fiber.Ctx) error {
		var req models.CreateConversationRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		conv, _, err := convService.GetOrCreate(c.Context(), handlers.CallerID(c), req.OtherUserID)
		if err != nil {
			return fail(c, zlog, err)
		}
		return c.JSON(models.ConversationResponse{ConversationID: conv.ID})
	})

	protected.Get("/conversations", func(c *fiber.Ctx) error {
		convs, err := convService.ListForUser(c.Context(), handlers.CallerID(c))
		if err != nil {
			if errors.Is(err, services.ErrUnauthenticated) {
				return c.JSON([]*models.ConversationSummary{})
			}
			return fail(c, zlog, err)
		}
		return c.JSON(convs)
	})

	protected.Get("/conversations/:id", func(c *fiber.Ctx) error {
		detail, err := convService.Get(c.Context(), handlers.CallerID(c), c.Params("id"))
		if err != nil {
			if errors.Is(err, services.ErrUnauthenticated) {
				return c.JSON(nil)
			}
			return fail(c, zlog, err)
		}
		return c.JSON(detail)
	})

	protected.Post("/conversations/:id/read", func(c *fiber.Ctx) error {
		if err := convService.MarkRead(c.Context(), handlers.CallerID(c), c.Params("id")); err != nil {
			return fail(c, zlog, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	protected.Get("/conversations/:id/messages", func(c *fiber.Ctx) error {
		msgs, err := msgService.ListForConversation(c.Context(), c.Params("id"), handlers.CallerID(c))
		if err != nil {
			if errors.Is(err, services.ErrUnauthenticated) {
				return c.JSON([]*models.MessageView{})
			}
			return fail(c, zlog, err)
		}
		return c.JSON(msgs)
	})

	protected.Post("/conversations/:id/messages", func(c *fiber.Ctx) error {
		var req models.SendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		callerID := handlers.CallerID(c)
		msg, err := msgService.Append(c.Context(), c.Params("id"), callerID, req.Body)
		if err != nil {
			return fail(c, zlog, err)
		}
		if detail, err := convService.Get(c.Context(), callerID, msg.ConversationID); err == nil {
			hub.SendToUsers(detail.ParticipantIDs, fiber.Map{
				"event":   "message.new",
				"message": msg,
			})
		}
		return c.Status(fiber.StatusCreated).JSON(msg)
	})

	protected.Delete("/messages/:id", func(c *fiber.Ctx) error {
		callerID := handlers.CallerID(c)
		msg, err := msgService.SoftDelete(c.Context(), c.Params("id"), callerID)
		if err != nil {
			return fail(c, zlog, err)
		}
		if detail, err := convService.Get(c.Context(), callerID, msg.ConversationID); err == nil {
			hub.SendToUsers(detail.ParticipantIDs, fiber.Map{
				"event":           "message.deleted",
				"message_id":      msg.ID,
				"conversation_id": msg.ConversationID,
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	protected.Post("/messages/:id/reactions", func(c *fiber.Ctx) error {
		var req models.ReactionRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		callerID := handlers.CallerID(c)
		added, msg, err := msgService.ToggleReaction(c.Context(), c.Params("id"), callerID, req.Emoji)
		if err != nil {
			return fail(c, zlog, err)
		}
		if detail, err := convService.Get(c.Context(), callerID, msg.ConversationID); err == nil {
			hub.SendToUsers(detail.ParticipantIDs, fiber.Map{
				"event":      "reaction",
				"message_id": msg.ID,
				"emoji":      req.Emoji,
				"user_id":    callerID,
				"added":      added,
			})
		}
		return c.JSON(fiber.Map{"added": added})
	})

	protected.Post("/conversations/:id/typing", func(c *fiber.Ctx) error {
		var req models.TypingRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := typingService.SetTyping(c.Context(), c.Params("id"), handlers.CallerID(c), req.IsTyping); err != nil {
			return fail(c, zlog, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	protected.Get("/conversations/:id/typing", func(c *fiber.Ctx) error {
		users, err := typingService.ListTypingUsers(c.Context(), c.Params("id"), handlers.CallerID(c))
		if err != nil {
			if errors.Is(err, services.ErrUnauthenticated) {
				return c.JSON([]*models.User{})
			}
			return fail(c, zlog, err)
		}
		return c.JSON(users)
	})

	// WebSocket route. Middleware order matters: upgrade check first,
	// then auth.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware(authService, userService))
	app.Get("/ws", handlers.WebSocketHandler(hub, userService, convService, typingService, zlog))

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			zlog.Fatalw("listen", "error", err)
		}
	}()
	zlog.Infow("server started", "port", cfg.Port)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	zlog.Info("gracefully shutting down...")
	_ = app.Shutdown()
	zlog.Info("server shutdown complete")
}

// fail maps service errors onto the HTTP taxonomy. Unknown errors are
// logged and hidden behind a generic 500.
func fail(c *fiber.Ctx, zlog *zap.SugaredLogger, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid argument"})
	case errors.Is(err, services.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
	case errors.Is(err, services.ErrPermissionDenied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "permission denied"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	default:
		zlog.Errorw("internal error", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
