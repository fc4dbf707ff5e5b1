package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Server exposes the modem over a small HTTP control API
type Server struct {
	Logger *slog.Logger
	Modem  Controller
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /enable", s.handleEnable)
	mux.HandleFunc("POST /disable", s.handleDisable)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /rssi", s.handleRSSI)
	mux.HandleFunc("GET /dns", s.handleDNS)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("POST /time", s.handleTime)
	mux.HandleFunc("POST /mqtt", s.handleMQTT)
	mux.HandleFunc("GET /http", s.handleHTTP)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if !s.Modem.Enable(r.Context()) {
		s.sendError(w, "modem did not attach", http.StatusServiceUnavailable)
		return
	}
	s.Logger.Info("Modem enabled")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.Modem.Disable()
	s.Logger.Info("Modem disabled")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{"state": s.Modem.State().String()})
}

func (s *Server) handleRSSI(w http.ResponseWriter, r *http.Request) {
	rssi, ok := s.Modem.RSSI(r.Context())
	if !ok {
		s.sendError(w, "signal strength unknown", http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, map[string]int{"rssi": rssi})
}

func (s *Server) handleDNS(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		s.sendError(w, "'host' parameter is required", http.StatusBadRequest)
		return
	}

	addr, ok := s.Modem.DNSLookup(r.Context(), host)
	if !ok {
		s.sendError(w, "lookup failed", http.StatusBadGateway)
		return
	}
	s.sendJSON(w, map[string]string{"host": host, "addr": addr.String()})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	v := s.Modem.FirmwareVersion(r.Context())
	if v == "" {
		s.sendError(w, "firmware version unavailable", http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, map[string]string{"version": v})
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	t, ok := s.Modem.SetTime(r.Context())
	if !ok {
		s.sendError(w, "time sync failed", http.StatusBadGateway)
		return
	}
	s.sendJSON(w, map[string]string{"time": t.Format(time.RFC3339Nano)})
}

// handleMQTT publishes the request body through the modem
func (s *Server) handleMQTT(w http.ResponseWriter, r *http.Request) {
	type MQTTRequest struct {
		Topic   string          `json:"topic"`
		Message json.RawMessage `json:"message"`
	}

	var req MQTTRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Topic == "" || len(req.Message) == 0 {
		s.sendError(w, "both 'topic' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	if !s.Modem.SendMQTT(r.Context(), req.Topic, req.Message) {
		s.Logger.Error("Failed to publish", "topic", req.Topic)
		s.sendError(w, "publish failed", http.StatusBadGateway)
		return
	}

	s.Logger.Info("Message published", "topic", req.Topic, "message_length", len(req.Message))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	host, path := r.URL.Query().Get("host"), r.URL.Query().Get("path")
	if host == "" || path == "" {
		s.sendError(w, "both 'host' and 'path' parameters are required", http.StatusBadRequest)
		return
	}

	content, ok := s.Modem.GetHTTP(r.Context(), host, path)
	if !ok {
		s.sendError(w, "request failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(content))
}
