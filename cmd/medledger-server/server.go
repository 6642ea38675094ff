package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/medledger/internal/config"
	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/domain/audit"
	"github.com/ehr/medledger/internal/domain/consent"
	"github.com/ehr/medledger/internal/domain/registry"
	"github.com/ehr/medledger/internal/platform/auth"
	"github.com/ehr/medledger/internal/platform/crypto"
	"github.com/ehr/medledger/internal/platform/db"
	"github.com/ehr/medledger/internal/platform/events"
	"github.com/ehr/medledger/internal/platform/middleware"
	"github.com/ehr/medledger/internal/platform/telemetry"
)

const version = "0.1.0"

// app is the wired ledger: four components over one backend behind one router.
type app struct {
	echo     *echo.Echo
	acl      *access.Service
	consents *consent.Service
	registry *registry.Service
	audit    *audit.Service

	stores  *stores
	redis   *redis.Client
	metrics *telemetry.Metrics
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.stores.Close())
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{stores: st}

	a.acl = access.NewService(st.roles, logger)
	a.consents = consent.NewService(st.consents, a.acl, logger)
	a.registry = registry.NewService(st.entries, a.acl, logger)
	a.audit = audit.NewService(st.trail, a.acl, logger)

	if err := a.acl.Bootstrap(ctx, access.Principal(cfg.GenesisAdmin)); err != nil {
		a.Close()
		return nil, err
	}

	// Every component publishes to the stream; registry and consent events
	// are additionally relayed into the audit trail when enabled.
	var stream events.Publisher = events.Nop{}
	if cfg.RedisURL != "" {
		client, err := events.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		stream = events.NewRedisStream(client, cfg.EventStream, cfg.EventStreamMax)
		logger.Info().Str("stream", cfg.EventStream).Msg("publishing ledger events to redis")
	}
	if cfg.MetricsEnabled {
		a.metrics = telemetry.New(version)
		stream = events.Multi{a.metrics, a.metrics.Observe(stream)}
	}
	relayed := stream
	if cfg.AuditRelay {
		relayed = events.Multi{stream, audit.NewRelay(a.audit)}
	}
	a.acl.SetPublisher(stream)
	a.audit.SetPublisher(stream)
	a.consents.SetPublisher(relayed)
	a.registry.SetPublisher(relayed)

	jwtCfg, err := jwtConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	var master []byte
	if cfg.EncryptionKey != "" {
		if master, err = crypto.ParseKey(cfg.EncryptionKey); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Warn().Msg("ENCRYPTION_KEY not set; bundle keys derive from patient ids alone")
	}

	a.echo = newRouter(cfg, logger, a, jwtCfg, crypto.NewPatientSealer(master))
	return a, nil
}

func newRouter(cfg *config.Config, logger zerolog.Logger, a *app, jwtCfg auth.JWTConfig, sealer registry.Sealer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if a.metrics != nil {
		e.Use(a.metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.PrincipalHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	if cfg.IsDev() {
		logger.Warn().Msg("development auth: the X-Principal header is trusted as the caller")
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	var recorder middleware.AccessRecorder
	if cfg.AuditReads {
		recorder = viewRecorder(a.audit)
	}
	e.Use(middleware.AccessLog(logger, recorder))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"backend": cfg.StoreBackend,
		})
	})
	if a.stores.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.stores.pool))
	}
	if a.metrics != nil {
		e.GET("/metrics", a.metrics.Handler())
	}

	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(rateLimitCfg))

	auth.NewTokenHandler(jwtCfg, cfg.AuthTokenTTL, cfg.IsDev()).RegisterRoutes(api)
	access.NewHandler(a.acl).RegisterRoutes(api)
	consent.NewHandler(a.consents).RegisterRoutes(api)
	registry.NewHandler(a.registry, a.acl, a.consents, a.stores.blobs, sealer).RegisterRoutes(api)
	audit.NewHandler(a.audit, a.acl, a.consents).RegisterRoutes(api)

	return e
}

// viewRecorder logs successful reads of registered data as View entries.
func viewRecorder(svc *audit.Service) middleware.AccessRecorder {
	return middleware.AccessRecorderFunc(func(ctx context.Context, rec middleware.AccessRecord) error {
		if !strings.HasPrefix(rec.Route, "/api/v1/data/") {
			return nil
		}
		_, err := svc.LogAccess(ctx, access.Principal(rec.Principal), rec.PatientID, "", audit.ActionView, rec.Method+" "+rec.Path)
		return err
	})
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.StoreBackend).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = a.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = a.echo.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
