package service

import (
	"time"

	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/handle"
)

// Session is one active simulation session: an opaque token bound to exactly
// one simulation handle.
type Session struct {
	ID             string
	Handle         *handle.Handle
	Scenario       *engine.ScenarioConfig
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// SessionInfo is the externally visible description of a session.
type SessionInfo struct {
	ID             string    `json:"id"`
	Scenario       string    `json:"scenario"`
	Engine         string    `json:"engine"`
	State          string    `json:"state"`
	SimTime        float64   `json:"sim_time"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// StepResult reports the outcome of advancing a simulation.
type StepResult struct {
	SessionID     string  `json:"session_id"`
	StepsExecuted int     `json:"steps_executed"`
	TimeBefore    float64 `json:"time_before"`
	SimTime       float64 `json:"sim_time"`
}

// EntityList is the identifier listing for one entity type.
type EntityList struct {
	SessionID string            `json:"session_id"`
	Type      engine.EntityType `json:"type"`
	SimTime   float64           `json:"sim_time"`
	IDs       []string          `json:"ids"`
	Count     int               `json:"count"`
}

// ScenarioInfo describes one loadable scenario configuration.
type ScenarioInfo struct {
	Filename    string  `json:"filename"`
	ScenarioID  string  `json:"scenario_id"` // identifier used for session creation
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Engine      string  `json:"engine"`
	StepLength  float64 `json:"step_length"`
}
