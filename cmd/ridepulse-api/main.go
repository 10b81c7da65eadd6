// README: Entry point; loads config, wires the tracking stack, starts HTTP, MQTT, and the idle sweeper.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"ridepulse/internal/config"
	"ridepulse/internal/directions"
	httptransport "ridepulse/internal/http"
	"ridepulse/internal/infra"
	"ridepulse/internal/modules/feed"
	"ridepulse/internal/modules/navigation"
	"ridepulse/internal/modules/tracking"
	mqtttransport "ridepulse/internal/mqtt"
	"ridepulse/internal/types"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage is best-effort: the tracker runs from memory when the archive
	// or the live cache is down.
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.WithError(err).Warn("postgres unavailable; trip archive disabled")
		dbPool = nil
	}
	redisClient := infra.NewRedis(cfg.Redis.Addr)

	var provider directions.Provider
	if cfg.Maps.APIKey != "" {
		gp, perr := directions.NewGoogleProvider(cfg.Maps.APIKey)
		if perr != nil {
			log.WithError(perr).Warn("directions provider init failed; guidance will stay stale")
		} else {
			provider = gp
		}
	} else {
		log.Warn("RIDEPULSE_MAPS_KEY not set; guidance will stay stale")
	}

	distributor := feed.NewDistributor(log)
	store := tracking.NewStore(dbPool, redisClient)
	tracker := tracking.NewTracker(cfg.Tracking, cfg.Navigation, store, distributor, provider, log)

	// Announcements also ride inside every consolidated snapshot; this hook is
	// where a voice/TTS channel would plug in.
	tracker.SetAnnouncementHandler(func(tripID types.ID, ann navigation.Announcement) {
		log.WithFields(logrus.Fields{
			"trip_id":  tripID,
			"band_m":   ann.BandM,
			"distance": ann.DistanceText,
		}).Info(ann.ManeuverInstruction)
	})

	go tracker.RunIdleSweeper(ctx)

	if client, merr := infra.NewMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID); merr != nil {
		log.WithError(merr).Warn("mqtt broker unavailable; position push channel disabled")
	} else {
		consumer := mqtttransport.NewConsumer(client, tracker, log)
		go func() {
			if cerr := consumer.Start(ctx); cerr != nil {
				log.WithError(cerr).Error("mqtt consumer stopped")
			}
		}()
	}

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Tracker: tracker,
		Feed:    distributor,
		Log:     log,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{"addr": cfg.HTTP.Addr}).Info("ridepulse api listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("http server failed")
	}
}
