package api

import (
	"errors"
	"net/http"

	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/scenario"
	"github.com/openmobility/sumo-mcp/sim/service"
	"github.com/openmobility/sumo-mcp/sim/session"
)

// Stable error codes surfaced across the protocol boundary.
const (
	CodeConfigError      = "config_error"
	CodeConnectionError  = "connection_error"
	CodeSimulationFault  = "simulation_fault"
	CodeStaleHandle      = "stale_handle"
	CodeValidationError  = "validation_error"
	CodeSessionNotFound  = "session_not_found"
	CodeSessionExpired   = "session_expired"
	CodeCapacityExceeded = "capacity_exceeded"
	CodeEntityNotFound   = "entity_not_found"
	CodeTimeout          = "timeout"
	CodeInternal         = "internal_error"
)

// classify maps a dispatcher error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	var unknownType *engine.UnknownEntityTypeError
	switch {
	case errors.Is(err, service.ErrValidation), errors.As(err, &unknownType):
		return http.StatusBadRequest, CodeValidationError
	case errors.Is(err, scenario.ErrScenarioNotFound), errors.Is(err, scenario.ErrInvalidScenario):
		return http.StatusBadRequest, CodeConfigError
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, CodeSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusGone, CodeSessionExpired
	case errors.Is(err, session.ErrCapacityExceeded):
		return http.StatusTooManyRequests, CodeCapacityExceeded
	case errors.Is(err, service.ErrEntityNotFound):
		return http.StatusNotFound, CodeEntityNotFound
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, engine.ErrStaleHandle):
		return http.StatusConflict, CodeStaleHandle
	case errors.Is(err, engine.ErrConnection):
		return http.StatusBadGateway, CodeConnectionError
	case errors.Is(err, engine.ErrSimulationFault):
		return http.StatusBadGateway, CodeSimulationFault
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
