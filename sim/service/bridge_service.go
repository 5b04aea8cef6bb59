package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/openmobility/sumo-mcp/sim/cache"
	"github.com/openmobility/sumo-mcp/sim/engine"
)

// ErrEntityNotFound marks a query for an entity the simulation does not
// currently contain.
var ErrEntityNotFound = errors.New("entity not found")

// DefaultMaxStepsPerCall bounds a single step request so one tool call
// cannot hold a handle's lock for an unbounded simulated duration.
const DefaultMaxStepsPerCall = 1000

// bridgeServiceImpl implements the BridgeService interface.
type bridgeServiceImpl struct {
	sessions  SessionManager
	scenarios ScenarioManager
	snapshots *cache.Cache
	maxSteps  int
}

// NewBridgeService creates the dispatcher. maxStepsPerCall <= 0 selects the
// default limit.
func NewBridgeService(sessions SessionManager, scenarios ScenarioManager, snapshots *cache.Cache, maxStepsPerCall int) BridgeService {
	if maxStepsPerCall <= 0 {
		maxStepsPerCall = DefaultMaxStepsPerCall
	}
	return &bridgeServiceImpl{
		sessions:  sessions,
		scenarios: scenarios,
		snapshots: snapshots,
		maxSteps:  maxStepsPerCall,
	}
}

// CreateSession loads the scenario and opens a fresh simulation for it.
func (s *bridgeServiceImpl) CreateSession(ctx context.Context, scenarioID string) (*SessionInfo, error) {
	var scenario *engine.ScenarioConfig
	var err error
	if scenarioID != "" {
		scenario, err = s.scenarios.Load(scenarioID)
		if err != nil {
			return nil, err
		}
	} else {
		scenario = s.scenarios.Default()
		if scenario == nil {
			return nil, fmt.Errorf("%w: no scenario specified and no default available", ErrValidation)
		}
	}

	sess, err := s.sessions.Create(ctx, scenario)
	if err != nil {
		return nil, err
	}

	log.Info().Str("session", sess.ID).Str("scenario", scenario.Name).Str("engine", scenario.Engine).Msg("session created")
	return sessionInfo(sess), nil
}

func (s *bridgeServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	return sessionInfo(sess), nil
}

func (s *bridgeServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionInfo(sess))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *bridgeServiceImpl) CloseSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if err := s.sessions.Close(sessionID); err != nil {
		return err
	}
	s.snapshots.Invalidate(sessionID)
	log.Info().Str("session", sessionID).Msg("session closed")
	return nil
}

// Step advances the session's simulation. Any step invalidates the session's
// cached snapshots: they belong to the previous generation.
func (s *bridgeServiceImpl) Step(ctx context.Context, sessionID string, steps int) (*StepResult, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: steps must be >= 1, got %d", ErrValidation, steps)
	}
	if steps > s.maxSteps {
		return nil, fmt.Errorf("%w: steps must be <= %d, got %d", ErrValidation, s.maxSteps, steps)
	}

	sess, err := s.resolve(sessionID)
	if err != nil {
		return nil, err
	}

	before := sess.Handle.Time()
	newTime, err := sess.Handle.Step(ctx, steps)
	// Invalidate regardless of the outcome: after a fault or timeout the old
	// generation must not be served either.
	s.snapshots.Invalidate(sess.Handle.ID())
	if err != nil {
		return nil, err
	}

	log.Debug().Str("session", sessionID).Int("steps", steps).Float64("sim_time", newTime).Msg("simulation advanced")
	return &StepResult{
		SessionID:     sessionID,
		StepsExecuted: steps,
		TimeBefore:    before,
		SimTime:       newTime,
	}, nil
}

// QueryEntities captures (or re-serves) the snapshot for the given filter at
// the session's current simulation time.
func (s *bridgeServiceImpl) QueryEntities(ctx context.Context, sessionID string, filter engine.Filter) (*engine.Snapshot, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	sess, err := s.resolve(sessionID)
	if err != nil {
		return nil, err
	}

	return s.snapshots.GetOrFetch(ctx, sess.Handle, filter)
}

func (s *bridgeServiceImpl) ListEntities(ctx context.Context, sessionID string, entityType engine.EntityType) (*EntityList, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}

	snap, err := s.QueryEntities(ctx, sessionID, engine.FilterType(entityType))
	if err != nil {
		return nil, err
	}

	ids := snap.IDs(entityType)
	sort.Strings(ids)
	return &EntityList{
		SessionID: sessionID,
		Type:      entityType,
		SimTime:   snap.Time,
		IDs:       ids,
		Count:     len(ids),
	}, nil
}

func (s *bridgeServiceImpl) GetVehicle(ctx context.Context, sessionID, vehicleID string) (*engine.VehicleState, error) {
	if vehicleID == "" {
		return nil, fmt.Errorf("%w: vehicle id is required", ErrValidation)
	}
	snap, err := s.QueryEntities(ctx, sessionID, engine.FilterEntity(engine.EntityVehicle, vehicleID))
	if err != nil {
		return nil, err
	}
	vs, ok := snap.Vehicles[vehicleID]
	if !ok {
		return nil, fmt.Errorf("%w: vehicle %q is not in the simulation at time %g", ErrEntityNotFound, vehicleID, snap.Time)
	}
	return &vs, nil
}

func (s *bridgeServiceImpl) GetTrafficLight(ctx context.Context, sessionID, tlID string) (*engine.TrafficLightState, error) {
	if tlID == "" {
		return nil, fmt.Errorf("%w: traffic light id is required", ErrValidation)
	}
	snap, err := s.QueryEntities(ctx, sessionID, engine.FilterEntity(engine.EntityTrafficLight, tlID))
	if err != nil {
		return nil, err
	}
	ts, ok := snap.TrafficLights[tlID]
	if !ok {
		return nil, fmt.Errorf("%w: traffic light %q not found", ErrEntityNotFound, tlID)
	}
	return &ts, nil
}

func (s *bridgeServiceImpl) GetDetector(ctx context.Context, sessionID, detectorID string) (*engine.DetectorState, error) {
	if detectorID == "" {
		return nil, fmt.Errorf("%w: detector id is required", ErrValidation)
	}
	snap, err := s.QueryEntities(ctx, sessionID, engine.FilterEntity(engine.EntityDetector, detectorID))
	if err != nil {
		return nil, err
	}
	ds, ok := snap.Detectors[detectorID]
	if !ok {
		return nil, fmt.Errorf("%w: detector %q not found", ErrEntityNotFound, detectorID)
	}
	return &ds, nil
}

func (s *bridgeServiceImpl) ListScenarios(ctx context.Context) ([]*ScenarioInfo, error) {
	return s.scenarios.List()
}

// resolve fetches a session; Get refreshes the activity clock as part of the
// lookup, so expiry and touch cannot race.
func (s *bridgeServiceImpl) resolve(sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	return s.sessions.Get(sessionID)
}

func sessionInfo(sess *Session) *SessionInfo {
	return &SessionInfo{
		ID:             sess.ID,
		Scenario:       sess.Scenario.Name,
		Engine:         sess.Scenario.Engine,
		State:          string(sess.Handle.State()),
		SimTime:        sess.Handle.Time(),
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
	}
}
