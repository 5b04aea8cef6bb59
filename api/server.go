package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/service"
	"github.com/openmobility/sumo-mcp/transport/websocket"
)

// Server is the REST API server.
type Server struct {
	service service.BridgeService
	hub     *websocket.Hub
	router  *mux.Router
}

// NewServer creates a new API server. The hub may be nil when no WebSocket
// observers are wanted (the MCP stdio mode runs without one).
func NewServer(bridge service.BridgeService, hub *websocket.Hub) *Server {
	s := &Server{
		service: bridge,
		hub:     hub,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods("DELETE")

	// Simulation control and entity queries
	api.HandleFunc("/sessions/{id}/step", s.handleStep).Methods("POST")
	api.HandleFunc("/sessions/{id}/snapshot", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/sessions/{id}/entities/{type}", s.handleListEntities).Methods("GET")
	api.HandleFunc("/sessions/{id}/entities/{type}/{entityID}", s.handleGetEntity).Methods("GET")

	// Scenario catalog
	api.HandleFunc("/scenarios", s.handleListScenarios).Methods("GET")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("", s.handleHealth).Methods("GET")

	// WebSocket observers
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= 500 {
		log.Error().Err(err).Str("code", code).Msg("request failed")
	}
	respondJSON(w, status, map[string]string{
		"code":  code,
		"error": err.Error(),
	})
}

// Session handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, fmt.Errorf("%w: invalid request body: %v", service.ErrValidation, err))
		return
	}

	info, err := s.service.CreateSession(r.Context(), req.ScenarioID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.service.CloseSession(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(id, "session_closed", nil)
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "session closed"})
}

// Simulation handlers

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req := struct {
		Steps int `json:"steps"`
	}{Steps: 1}
	// An empty body means one step; a body that fails to decode must never
	// advance the simulation.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, fmt.Errorf("%w: invalid request body: %v", service.ErrValidation, err))
		return
	}

	result, err := s.service.Step(r.Context(), id, req.Steps)
	if err != nil {
		respondError(w, err)
		if s.hub != nil && isFaultError(err) {
			s.hub.BroadcastEvent(id, "faulted", map[string]string{"error": err.Error()})
		}
		return
	}

	// Observers get the fresh generation; served from the cache the next
	// time any command asks for the same filter.
	if s.hub != nil {
		if snap, qerr := s.service.QueryEntities(r.Context(), id, engine.FilterAll); qerr == nil {
			s.hub.BroadcastSnapshot(id, snap)
		}
	}

	respondJSON(w, http.StatusOK, result)
}

func isFaultError(err error) bool {
	_, code := classify(err)
	switch code {
	case CodeSimulationFault, CodeTimeout, CodeConnectionError:
		return true
	}
	return false
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	filter, err := filterFromQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}

	snap, err := s.service.QueryEntities(r.Context(), id, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// filterFromQuery builds an entity filter from ?types=...&ids=... query
// parameters.
func filterFromQuery(r *http.Request) (engine.Filter, error) {
	var f engine.Filter
	q := r.URL.Query()
	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			f.Types = append(f.Types, engine.EntityType(strings.TrimSpace(t)))
		}
	}
	if raw := q.Get("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				f.IDs = append(f.IDs, id)
			}
		}
	}
	if err := f.Validate(); err != nil {
		return engine.Filter{}, err
	}
	return f, nil
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	list, err := s.service.ListEntities(r.Context(), vars["id"], engine.EntityType(vars["type"]))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["id"]
	entityID := vars["entityID"]

	var result interface{}
	var err error
	switch engine.EntityType(vars["type"]) {
	case engine.EntityVehicle:
		result, err = s.service.GetVehicle(r.Context(), sessionID, entityID)
	case engine.EntityTrafficLight:
		result, err = s.service.GetTrafficLight(r.Context(), sessionID, entityID)
	case engine.EntityDetector:
		result, err = s.service.GetDetector(r.Context(), sessionID, entityID)
	default:
		respondError(w, &engine.UnknownEntityTypeError{Type: vars["type"]})
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Scenario handlers

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.service.ListScenarios(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, scenarios)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleWebSocket registers an observer for a session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket not enabled", http.StatusNotImplemented)
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session query parameter required", http.StatusBadRequest)
		return
	}
	s.hub.ServeWS(w, r, sessionID)
}
