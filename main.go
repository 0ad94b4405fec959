package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"signage-fleet/confs"
	"signage-fleet/db"
	"signage-fleet/events"
	"signage-fleet/logging"
	"signage-fleet/server"

	"github.com/gin-gonic/gin"
)

func main() {
	// load config
	cfg, err := confs.LoadConfig()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	log.Info().Object("cfg", cfg).Msg("boot")
	gin.SetMode(gin.ReleaseMode)

	database, err := db.Connect(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to DB")
	}
	defer database.Close()

	var pub events.Publisher
	if cfg.NATSURL != "" {
		nc, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, log)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		pub = nc
	}

	srv, err := server.NewServer(cfg, database, pub, log)
	if err != nil {
		log.Fatal().Err(err).Msg("server init")
	}

	// graceful-shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Error().Err(err).Msg("http")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("bye")
}
