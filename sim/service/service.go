package service

import (
	"context"
	"errors"
	"time"

	"github.com/openmobility/sumo-mcp/sim/engine"
)

// ErrValidation marks a request rejected before it reached any simulation
// handle. Validation failures never change handle state.
var ErrValidation = errors.New("validation error")

// BridgeService defines every operation the bridge exposes over its
// transports.
type BridgeService interface {
	// Session management
	CreateSession(ctx context.Context, scenarioID string) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	CloseSession(ctx context.Context, sessionID string) error

	// Simulation control
	Step(ctx context.Context, sessionID string, steps int) (*StepResult, error)

	// Entity queries
	QueryEntities(ctx context.Context, sessionID string, filter engine.Filter) (*engine.Snapshot, error)
	ListEntities(ctx context.Context, sessionID string, entityType engine.EntityType) (*EntityList, error)
	GetVehicle(ctx context.Context, sessionID, vehicleID string) (*engine.VehicleState, error)
	GetTrafficLight(ctx context.Context, sessionID, tlID string) (*engine.TrafficLightState, error)
	GetDetector(ctx context.Context, sessionID, detectorID string) (*engine.DetectorState, error)

	// Scenario catalog
	ListScenarios(ctx context.Context) ([]*ScenarioInfo, error)
}

// SessionManager defines session storage and lifecycle operations. Get
// refreshes the session's activity clock and returns a copy of the record.
type SessionManager interface {
	Create(ctx context.Context, scenario *engine.ScenarioConfig) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Close(id string) error
	CleanupExpired(maxAge time.Duration) int
	Count() int
}

// ScenarioManager handles scenario configuration loading.
type ScenarioManager interface {
	Load(name string) (*engine.ScenarioConfig, error)
	List() ([]*ScenarioInfo, error)
	Default() *engine.ScenarioConfig
}
