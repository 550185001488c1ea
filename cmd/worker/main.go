package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"attendify/internal/attendance"
	"attendify/internal/config"
	"attendify/internal/directory"
	"attendify/internal/geo"
	"attendify/internal/logging"
	"attendify/internal/queue"
	"attendify/internal/store"
)

// Worker consumes position pings and records the first time a checked-in
// user leaves their class geofence.
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("prod", "info")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.NewDB(connectCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// Only useful in tests; an in-memory queue is not shared with the API.
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendify:positions", log)
	}

	w := &worker{
		classes: directory.NewService(directory.NewRepository(db.Client), nil, cfg.MaxTemplates, cfg.DefaultSensitivity, log),
		records: attendance.NewService(attendance.NewRepository(db.Client), cfg.Location(), log),
		log:     log,
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	log.Info().Msg("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TopicPosition {
			continue
		}
		w.handle(ctx, msg)
	}
	log.Info().Msg("worker stopped")
}

type classLookup interface {
	ClassOf(ctx context.Context, userID string) (directory.Class, error)
}

type exitRecorder interface {
	ObservePosition(ctx context.Context, userID string, p geo.Point, at time.Time, fence geo.Fence) (bool, error)
}

type worker struct {
	classes classLookup
	records exitRecorder
	log     zerolog.Logger
}

// handle processes one position ping. Pings for users without a class or
// without a fenced class are dropped.
func (w *worker) handle(ctx context.Context, msg queue.Message) {
	pos, err := queue.DecodePosition(msg)
	if err != nil {
		w.log.Warn().Err(err).Msg("dropping malformed position")
		return
	}
	cls, err := w.classes.ClassOf(ctx, pos.UserID)
	if err != nil {
		if !errors.Is(err, directory.ErrClassNotFound) && !errors.Is(err, directory.ErrUserNotFound) {
			w.log.Error().Err(err).Str("user_id", pos.UserID).Msg("class lookup failed")
		}
		return
	}
	fence := cls.Fence()
	if fence == nil {
		return
	}
	p := geo.Point{Lat: pos.Lat, Lng: pos.Lng}
	if _, err := w.records.ObservePosition(ctx, pos.UserID, p, pos.At, *fence); err != nil {
		w.log.Error().Err(err).Str("user_id", pos.UserID).Msg("position processing failed")
	}
}
