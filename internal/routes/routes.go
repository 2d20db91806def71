package routes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ragkasi/BreatheSafe/internal/auth"
	"github.com/ragkasi/BreatheSafe/internal/config"
	"github.com/ragkasi/BreatheSafe/internal/credential"
	"github.com/ragkasi/BreatheSafe/internal/identity"
	"github.com/ragkasi/BreatheSafe/internal/locker"
	"github.com/ragkasi/BreatheSafe/internal/metrics"
	"github.com/ragkasi/BreatheSafe/internal/middleware"
	"github.com/ragkasi/BreatheSafe/internal/notification"
	"github.com/ragkasi/BreatheSafe/internal/senderlock"
	"github.com/ragkasi/BreatheSafe/internal/sms"
)

const (
	breakerFailureThreshold = 5
	breakerCooldown         = 30 * time.Second
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
	// Sender replaces the outbound sender derived from Cfg.Twilio when set.
	Sender notification.Sender
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	prom := metrics.NewProm(d.Registry)

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger, "/healthz", "/metrics"))
	app.Use(prom.Middleware())

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Registry)

	var (
		userRepo   identity.Repository
		lockerRepo locker.Repository
	)
	if d.DB != nil {
		userRepo = identity.NewPostgresRepository(d.DB)
		lockerRepo = locker.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set; users and lockers are kept in memory")
		userRepo = identity.NewMemoryRepository()
		lockerRepo = locker.NewMemoryRepository()
	}
	userRepo = identity.Instrument(userRepo, prom)
	lockerRepo = locker.Instrument(lockerRepo, prom)

	hasher := credential.NewBcrypt(d.Cfg.PINBcryptCost)
	userSvc := identity.NewService(userRepo, hasher)
	lockerSvc := locker.NewService(lockerRepo, userRepo, d.Logger)

	sender, err := newSender(d)
	if err != nil {
		return err
	}
	engine := sms.NewEngine(userRepo, lockerSvc, hasher, sender, d.Logger, prom)

	var locks senderlock.Locker
	if d.Cache != nil {
		locks = senderlock.NewRedisLocker(d.Cache, d.Cfg.SenderLockTTL)
	} else {
		locks = senderlock.NewLocalLocker()
	}
	if !d.Cfg.Twilio.VerifySignatures() {
		d.Logger.Warn("TWILIO_AUTH_TOKEN or TWILIO_WEBHOOK_URL not set; SMS webhook signatures are not verified")
	}
	RegisterSMSRoutes(app, sms.NewHandler(engine, locks, d.Logger), d.Cfg.Twilio)

	// Direct API for operators
	var protect []fiber.Handler
	if d.Cfg.JWTSecret != "" {
		protect = append(protect, middleware.JWTAuth(auth.NewManager(d.Cfg.JWTSecret), auth.RoleOperator))
	} else {
		d.Logger.Warn("JWT_SECRET not set; direct API is unauthenticated")
	}
	if d.Cache != nil {
		protect = append(protect, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterUserRoutes(app.Group("/api/users", protect...), identity.NewHandler(userSvc))
	RegisterLockerRoutes(app.Group("/api/lockers", protect...), locker.NewHandler(lockerSvc))

	return nil
}

func newSender(d Deps) (notification.Sender, error) {
	if d.Sender != nil {
		return d.Sender, nil
	}
	if !d.Cfg.Twilio.Enabled() {
		d.Logger.Warn("Twilio credentials not set; outbound SMS replies are only logged")
		return notification.NewLoggerSender(d.Logger), nil
	}
	twilio, err := notification.NewTwilioSender(notification.TwilioConfig{
		AccountSID: d.Cfg.Twilio.AccountSID,
		AuthToken:  d.Cfg.Twilio.AuthToken,
		FromNumber: d.Cfg.Twilio.PhoneNumber,
		BaseURL:    d.Cfg.Twilio.APIBaseURL,
		Timeout:    d.Cfg.Twilio.SendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configure twilio: %w", err)
	}
	return notification.NewProtectedSender(twilio, notification.ProtectedSenderConfig{
		Timeout:          d.Cfg.Twilio.SendTimeout,
		FailureThreshold: breakerFailureThreshold,
		Cooldown:         breakerCooldown,
	}), nil
}
