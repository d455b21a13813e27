package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
)

// Server upgrades HTTP connections into live current-state subscriptions.
type Server struct {
	hub          *Hub
	logger       *zap.Logger
	writeTimeout time.Duration
	buffer       int
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(hub *Hub, writeTimeout time.Duration, buffer int, logger *zap.Logger) *Server {
	return &Server{
		hub:          hub,
		logger:       logger,
		writeTimeout: writeTimeout,
		buffer:       buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP handles GET /ws/current?class=&device_id=.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter Filter
	if raw := r.URL.Query().Get("class"); raw != "" {
		class, err := models.ParseDeviceClass(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Class = class
	}
	filter.DeviceID = r.URL.Query().Get("device_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, filter, s.buffer, s.writeTimeout, s.hub.PingInterval(), s.logger, s.hub.Remove)
	s.hub.Add(client)
	s.logger.Info("live subscriber connected", zap.String("class", string(filter.Class)), zap.String("device_id", filter.DeviceID))
	go client.Start()
}
