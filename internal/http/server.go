// README: API gateway; registers HTTP routes and delegates to the tracking subsystem.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ridepulse/internal/http/middleware"
	"ridepulse/internal/modules/feed"
	"ridepulse/internal/modules/tracking"
	"ridepulse/internal/types"
)

type ServerDeps struct {
	Tracker *tracking.Tracker
	Feed    *feed.Distributor
	Log     *logrus.Logger
}

type Server struct {
	tracker *tracking.Tracker
	feed    *feed.Distributor
	log     *logrus.Logger
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Log
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		tracker: deps.Tracker,
		feed:    deps.Feed,
		log:     log,
	}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Logging(s.log), middleware.Recovery(s.log))

	r.GET("/health", s.HandleHealth)

	api := r.Group("/api")
	api.POST("/trips/:id/start", s.HandleStartTrip)
	api.POST("/trips/:id/complete", s.HandleCompleteTrip)
	api.POST("/trips/:id/cancel", s.HandleCancelTrip)
	api.GET("/trips/:id/snapshot", s.HandleSnapshot)
	api.GET("/trips/:id/live", s.HandleLiveFeed)
	api.POST("/location/update", s.HandleLocationUpdate)

	return r
}

func (s *Server) HandleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

type startTripReq struct {
	DriverID  string   `json:"driver_id"`
	StartLat  *float64 `json:"start_lat"`
	StartLng  *float64 `json:"start_lng"`
	DestLat   float64  `json:"dest_lat"`
	DestLng   float64  `json:"dest_lng"`
	StartTime string   `json:"start_time"`
}

func (s *Server) HandleStartTrip(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	var req startTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}

	cmd := tracking.StartCommand{
		TripID:      types.ID(id),
		DriverID:    types.ID(req.DriverID),
		Destination: types.Point{Lat: req.DestLat, Lng: req.DestLng},
	}
	if req.StartLat != nil && req.StartLng != nil {
		cmd.Seed = &types.Point{Lat: *req.StartLat, Lng: *req.StartLng}
	}
	if req.StartTime != "" {
		t, err := parseTimestamp(req.StartTime)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid start_time")
			return
		}
		cmd.StartTime = t
	}

	if err := s.tracker.StartTrip(c.Request.Context(), cmd); err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"trip_id": id, "status": "tracking"})
}

func (s *Server) HandleCompleteTrip(c *gin.Context) {
	s.handleEvict(c, s.tracker.CompleteTrip)
}

func (s *Server) HandleCancelTrip(c *gin.Context) {
	s.handleEvict(c, s.tracker.CancelTrip)
}

func (s *Server) handleEvict(c *gin.Context, fn func(ctx context.Context, id types.ID) (*tracking.FinalSnapshot, error)) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	final, err := fn(c.Request.Context(), types.ID(id))
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, final)
}

type locationUpdateReq struct {
	TripID    string   `json:"trip_id"`
	DriverID  string   `json:"driver_id"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Heading   *float64 `json:"heading"`
	SpeedKmh  *float64 `json:"speed_kmh"`
	Timestamp string   `json:"timestamp"`
}

func (s *Server) HandleLocationUpdate(c *gin.Context) {
	var req locationUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid timestamp")
		return
	}

	snap, err := s.tracker.HandleFix(c.Request.Context(), tracking.PositionFix{
		TripID:    types.ID(req.TripID),
		DriverID:  types.ID(req.DriverID),
		Position:  types.Point{Lat: req.Lat, Lng: req.Lng},
		Heading:   req.Heading,
		SpeedKmh:  req.SpeedKmh,
		Timestamp: ts,
	})
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (s *Server) HandleSnapshot(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	snap, err := s.tracker.GetSnapshot(c.Request.Context(), types.ID(id))
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	if snap == nil {
		writeError(c, http.StatusNotFound, "unknown trip")
		return
	}
	writeJSON(c, http.StatusOK, snap)
}
