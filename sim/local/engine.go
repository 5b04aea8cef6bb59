package local

import (
	"context"
	"fmt"
	"math"

	"github.com/openmobility/sumo-mcp/sim/engine"
)

// assumed vehicle length for occupancy calculation, meters
const vehicleLength = 5.0

// Engine is the built-in deterministic simulation. Not safe for concurrent
// use; the handle layer serializes all calls.
type Engine struct {
	cfg     *engine.ScenarioConfig
	open    bool
	closed  bool
	simTime float64

	edges       map[string]engine.EdgeDef
	edgeOrigins map[string]float64 // x coordinate of each edge's start
	vehicles    []*vehicle
	detectors   map[string]*detectorState
}

type vehicle struct {
	def       engine.VehicleDef
	departed  bool
	arrived   bool
	routeIdx  int
	offset    float64 // meters into the current edge
	speed     float64 // speed during the last step
	prevSpeed float64 // speed during the step before that
}

type detectorState struct {
	def    engine.DetectorDef
	count  int     // vehicles crossing during the last step
	speeds float64 // sum of crossing speeds during the last step
}

// NewEngine builds a local engine from a validated scenario configuration.
func NewEngine(cfg *engine.ScenarioConfig) (*Engine, error) {
	if err := engine.ValidateScenarioConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Engine != engine.ModeLocal {
		return nil, fmt.Errorf("local engine: scenario %q uses engine %q", cfg.Name, cfg.Engine)
	}

	e := &Engine{
		cfg:         cfg,
		edges:       make(map[string]engine.EdgeDef, len(cfg.World.Edges)),
		edgeOrigins: make(map[string]float64, len(cfg.World.Edges)),
		detectors:   make(map[string]*detectorState, len(cfg.World.Detectors)),
	}

	// Edges are laid out end to end along the x axis in definition order,
	// which gives every vehicle a well-defined 2D position.
	x := 0.0
	for _, ed := range cfg.World.Edges {
		e.edges[ed.ID] = ed
		e.edgeOrigins[ed.ID] = x
		x += ed.Length
	}

	for _, vd := range cfg.World.Vehicles {
		e.vehicles = append(e.vehicles, &vehicle{def: vd})
	}
	for _, dd := range cfg.World.Detectors {
		e.detectors[dd.ID] = &detectorState{def: dd}
	}

	return e, nil
}

// Open marks the engine ready. The work of "starting" is done in NewEngine;
// kept as a separate call to satisfy the Engine lifecycle.
func (e *Engine) Open(ctx context.Context) error {
	if e.closed {
		return fmt.Errorf("%w: engine already closed", engine.ErrConnection)
	}
	e.open = true
	return nil
}

// Step advances the simulation by n steps of the configured step length.
func (e *Engine) Step(ctx context.Context, n int) (float64, error) {
	if err := e.ensureOpen(); err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: step count must be >= 1, got %d", engine.ErrSimulationFault, n)
	}

	for i := 0; i < n; i++ {
		e.stepOnce()
	}
	return e.simTime, nil
}

func (e *Engine) stepOnce() {
	step := e.cfg.StepLength
	e.simTime += step

	for _, d := range e.detectors {
		d.count = 0
		d.speeds = 0
	}

	for _, v := range e.vehicles {
		v.prevSpeed = v.speed

		if v.arrived {
			v.speed = 0
			continue
		}
		if !v.departed {
			if e.simTime < v.def.Depart {
				v.speed = 0
				continue
			}
			v.departed = true
			v.routeIdx = 0
			v.offset = 0
		}

		edge := e.edges[v.def.Route[v.routeIdx]]
		speed := math.Min(v.def.Speed, edge.SpeedLimit)
		v.speed = speed
		remaining := speed * step

		for remaining > 0 && !v.arrived {
			edge = e.edges[v.def.Route[v.routeIdx]]
			segStart := v.offset
			segEnd := math.Min(edge.Length, segStart+remaining)
			e.recordCrossings(edge.ID, segStart, segEnd, speed)
			remaining -= segEnd - segStart
			v.offset = segEnd

			if v.offset >= edge.Length {
				v.routeIdx++
				v.offset = 0
				if v.routeIdx >= len(v.def.Route) {
					v.arrived = true
					v.speed = 0
				}
			}
		}
	}
}

// recordCrossings counts detector passes for a traversal of [from, to) on
// one edge during the current step.
func (e *Engine) recordCrossings(edgeID string, from, to, speed float64) {
	for _, d := range e.detectors {
		if d.def.Edge != edgeID {
			continue
		}
		if from <= d.def.Position && d.def.Position < to {
			d.count++
			d.speeds += speed
		}
	}
}

// Query captures the filtered entity state at the current simulation time.
func (e *Engine) Query(ctx context.Context, filter engine.Filter) (*engine.Snapshot, error) {
	if err := e.ensureOpen(); err != nil {
		return nil, err
	}

	snap := &engine.Snapshot{Time: e.simTime}

	if filter.WantsType(engine.EntityVehicle) {
		snap.Vehicles = make(map[string]engine.VehicleState)
		for _, v := range e.vehicles {
			if !v.departed || v.arrived || !filter.WantsID(v.def.ID) {
				continue
			}
			snap.Vehicles[v.def.ID] = e.vehicleState(v)
		}
	}

	if filter.WantsType(engine.EntityTrafficLight) {
		snap.TrafficLights = make(map[string]engine.TrafficLightState)
		for _, tl := range e.cfg.World.TrafficLights {
			if !filter.WantsID(tl.ID) {
				continue
			}
			phase, state := phaseAt(tl, e.simTime)
			snap.TrafficLights[tl.ID] = engine.TrafficLightState{
				ID:         tl.ID,
				Phase:      phase,
				PhaseState: state,
			}
		}
	}

	if filter.WantsType(engine.EntityDetector) {
		snap.Detectors = make(map[string]engine.DetectorState)
		for id, d := range e.detectors {
			if !filter.WantsID(id) {
				continue
			}
			snap.Detectors[id] = e.detectorSnapshot(d)
		}
	}

	return snap, nil
}

func (e *Engine) vehicleState(v *vehicle) engine.VehicleState {
	edgeID := v.def.Route[v.routeIdx]
	x := e.edgeOrigins[edgeID] + v.offset

	accel := 0.0
	if e.cfg.StepLength > 0 {
		accel = (v.speed - v.prevSpeed) / e.cfg.StepLength
	}

	routeEdges := make([]string, len(v.def.Route))
	copy(routeEdges, v.def.Route)

	return engine.VehicleState{
		ID:           v.def.ID,
		Position:     engine.Position{X: x, Y: 0},
		Speed:        v.speed,
		Acceleration: accel,
		Angle:        90, // eastbound along the x axis
		LaneID:       edgeID + "_0",
		RouteID:      "route_" + v.def.ID,
		RouteEdges:   routeEdges,
	}
}

func (e *Engine) detectorSnapshot(d *detectorState) engine.DetectorState {
	out := engine.DetectorState{
		ID:           d.def.ID,
		VehicleCount: d.count,
		MeanSpeed:    -1,
	}
	if d.count > 0 {
		mean := d.speeds / float64(d.count)
		out.MeanSpeed = mean
		if mean > 0 {
			occ := float64(d.count) * vehicleLength / (mean * e.cfg.StepLength) * 100
			out.Occupancy = math.Min(occ, 100)
		}
	}
	return out
}

// phaseAt returns the phase index and state string active at time t for a
// fixed-cycle traffic light program.
func phaseAt(tl engine.TrafficLightDef, t float64) (int, string) {
	cycle := 0.0
	for _, p := range tl.Phases {
		cycle += p.Duration
	}
	elapsed := math.Mod(t, cycle)
	for i, p := range tl.Phases {
		if elapsed < p.Duration {
			return i, p.State
		}
		elapsed -= p.Duration
	}
	return 0, tl.Phases[0].State
}

// Close releases the engine. Safe to call more than once.
func (e *Engine) Close() error {
	e.open = false
	e.closed = true
	return nil
}

func (e *Engine) ensureOpen() error {
	if e.closed {
		return fmt.Errorf("%w: engine closed", engine.ErrSimulationFault)
	}
	if !e.open {
		return fmt.Errorf("%w: engine not opened", engine.ErrSimulationFault)
	}
	return nil
}
