// README: Fix generator; replays an interpolated route over MQTT to exercise the tracker.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ridepulse/internal/geo"
	"ridepulse/internal/modules/tracking"
	"ridepulse/internal/types"
)

type Config struct {
	Broker   string
	TripID   string
	DriverID string
	StartLat float64
	StartLng float64
	DestLat  float64
	DestLng  float64
	Steps    int
	Interval time.Duration
	SpeedKmh float64
	JitterM  float64
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.TripID, "trip", "trip-sim-1", "Trip ID")
	flag.StringVar(&cfg.DriverID, "driver", "driver-sim-1", "Driver ID")
	flag.Float64Var(&cfg.StartLat, "start-lat", 19.0760, "Start latitude")
	flag.Float64Var(&cfg.StartLng, "start-lng", 72.8777, "Start longitude")
	flag.Float64Var(&cfg.DestLat, "dest-lat", 19.1260, "Destination latitude")
	flag.Float64Var(&cfg.DestLng, "dest-lng", 72.8777, "Destination longitude")
	flag.IntVar(&cfg.Steps, "steps", 50, "Number of fixes to emit")
	flag.DurationVar(&cfg.Interval, "interval", 2*time.Second, "Delay between fixes")
	flag.Float64Var(&cfg.SpeedKmh, "speed", 35, "Reported speed in km/h")
	flag.Float64Var(&cfg.JitterM, "jitter", 8, "Per-fix position jitter in metres")
	flag.Parse()
	return cfg
}

func main() {
	cfg := loadConfig()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("fixgen-" + cfg.TripID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("mqtt connect failed: %v", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	topic := fmt.Sprintf("ridepulse/trips/%s/position", cfg.TripID)
	start := types.Point{Lat: cfg.StartLat, Lng: cfg.StartLng}
	dest := types.Point{Lat: cfg.DestLat, Lng: cfg.DestLng}

	totalKm, err := geo.DistanceKm(start, dest)
	if err != nil {
		log.Printf("invalid route endpoints: %v", err)
		os.Exit(1)
	}
	log.Printf("[%s] replaying %.2f km route in %d fixes on %s", cfg.TripID, totalKm, cfg.Steps, topic)

	for i := 0; i <= cfg.Steps; i++ {
		frac := float64(i) / float64(cfg.Steps)
		pos := types.Point{
			Lat: start.Lat + (dest.Lat-start.Lat)*frac + jitterDeg(cfg.JitterM),
			Lng: start.Lng + (dest.Lng-start.Lng)*frac + jitterDeg(cfg.JitterM),
		}
		heading, herr := geo.BearingDegrees(pos, dest)
		fix := tracking.PositionFix{
			TripID:    types.ID(cfg.TripID),
			DriverID:  types.ID(cfg.DriverID),
			Position:  pos,
			SpeedKmh:  &cfg.SpeedKmh,
			Timestamp: time.Now().UTC(),
		}
		if herr == nil {
			fix.Heading = &heading
		}

		payload, merr := json.Marshal(fix)
		if merr != nil {
			log.Printf("[%s] marshal failed: %v", cfg.TripID, merr)
			continue
		}
		if token := client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("[%s] publish failed: %v", cfg.TripID, token.Error())
		} else {
			log.Printf("[%s] fix %d/%d: %.6f, %.6f", cfg.TripID, i, cfg.Steps, pos.Lat, pos.Lng)
		}
		time.Sleep(cfg.Interval)
	}

	log.Printf("[%s] route completed", cfg.TripID)
}

// jitterDeg converts a +/- metre jitter to degrees, rough at mid latitudes.
func jitterDeg(m float64) float64 {
	if m <= 0 {
		return 0
	}
	return (rand.Float64()*2 - 1) * m / 111_200
}
