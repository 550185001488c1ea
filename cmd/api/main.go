package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"attendify/internal/attendance"
	"attendify/internal/audit"
	"attendify/internal/auth"
	"attendify/internal/cloudinary"
	"attendify/internal/config"
	"attendify/internal/directory"
	"attendify/internal/faceclient"
	"attendify/internal/handler"
	"attendify/internal/hardware"
	"attendify/internal/httpmiddleware"
	"attendify/internal/leave"
	"attendify/internal/logging"
	"attendify/internal/queue"
	"attendify/internal/secondfactor"
	"attendify/internal/store"
	"attendify/internal/verification"
)

const (
	positionsKey  = "attendify:positions"
	codesPrefix   = "attendify:2fa"
	sweepInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("prod", "info")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.Env, cfg.LogLevel)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.NewDB(connectCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, positionsKey, log)
	}

	var codes secondfactor.Store
	if cfg.TwoFactorStore == "memory" {
		codes = secondfactor.NewMemoryStore()
	} else {
		codes = secondfactor.NewRedisStore(redisClient.Client, codesPrefix)
	}

	var archive directory.Archiver
	if cfg.CloudinaryEnabled() {
		archive = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info().Str("cloud", cfg.CloudinaryCloudName).Msg("template archive enabled")
	} else {
		log.Info().Msg("template archive disabled (CLOUDINARY_* not set)")
	}

	dir := directory.NewService(directory.NewRepository(db.Client), archive, cfg.MaxTemplates, cfg.DefaultSensitivity, log)
	att := attendance.NewService(attendance.NewRepository(db.Client), cfg.Location(), log)
	leaves := leave.NewService(leave.NewRepository(db.Client), log)
	nodes := hardware.NewRegistry(hardware.NewRepository(db.Client), cfg.NodeOfflineAfter, log)
	trail := audit.New(db.Client, log)

	var sender secondfactor.Sender
	if cfg.SMTP.Host != "" {
		sender = secondfactor.NewMailSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, dir)
	} else {
		log.Warn().Msg("SMTP_HOST not set; two-factor codes are written to the log")
		sender = secondfactor.NewLogSender(log)
	}
	codesSvc := secondfactor.NewService(codes, sender, cfg.TwoFactorTTL, cfg.TwoFactorMaxAttempts, log)

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceTimeout)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("face service not available; comparisons will fail until it is")
		}
	}

	sessions := verification.NewManager(log)
	go sessions.Run(ctx, sweepInterval, cfg.SessionIdleTTL)

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.Prune(10 * time.Minute)
			}
		}
	}()

	h := handler.New(handler.Deps{
		Directory:    dir,
		Attendance:   att,
		Leave:        leaves,
		Hardware:     nodes,
		Audit:        trail,
		Positions:    q,
		Comparator:   face,
		SecondFactor: codesSvc,
		Sessions:     sessions,
		Tokens:       auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Health: map[string]handler.Checker{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
	}, handler.Options{
		MaxTemplates:      cfg.MaxTemplates,
		ComparatorTimeout: cfg.FaceTimeout,
		EnforceGeofence:   cfg.GeofenceEnforce,
	}, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins...))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(limiter.Middleware(httpmiddleware.ClientIP))
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.FaceTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	sessions.Shutdown()

	log.Info().Msg("server exited")
	return nil
}
