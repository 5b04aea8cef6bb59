package engine

import (
	"fmt"
)

// Engine mode identifiers used in scenario configurations.
const (
	ModeTraCI = "traci"
	ModeLocal = "local"
)

// Validation limits for scenario configurations.
const (
	MinStepLength = 0.001
	MaxStepLength = 60.0
)

// ScenarioConfig fully determines one simulation run: which engine to use,
// the network/route inputs, and the step length.
type ScenarioConfig struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Engine      string  `json:"engine"`      // "traci" or "local"
	StepLength  float64 `json:"step_length"` // seconds per simulation step

	// TraCI holds connection settings for an external SUMO process. Required
	// when Engine is "traci".
	TraCI *TraCIConfig `json:"traci,omitempty"`

	// World describes the built-in deterministic simulation. Required when
	// Engine is "local".
	World *World `json:"world,omitempty"`
}

// TraCIConfig describes how to reach (or launch) a SUMO process.
type TraCIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// AutoStart launches the SUMO binary with --remote-port instead of
	// expecting a process to already be listening.
	AutoStart  bool     `json:"auto_start,omitempty"`
	Binary     string   `json:"binary,omitempty"`      // defaults to "sumo"
	ConfigFile string   `json:"config_file,omitempty"` // .sumocfg path
	NetFile    string   `json:"net_file,omitempty"`
	RouteFiles []string `json:"route_files,omitempty"`
}

// World is the network and demand definition for the local engine.
type World struct {
	Edges         []EdgeDef         `json:"edges"`
	Vehicles      []VehicleDef      `json:"vehicles"`
	TrafficLights []TrafficLightDef `json:"traffic_lights,omitempty"`
	Detectors     []DetectorDef     `json:"detectors,omitempty"`
}

// EdgeDef is one directed road segment with a single lane.
type EdgeDef struct {
	ID         string  `json:"id"`
	Length     float64 `json:"length"`      // meters
	SpeedLimit float64 `json:"speed_limit"` // m/s
}

// VehicleDef is one vehicle and its fixed route.
type VehicleDef struct {
	ID     string   `json:"id"`
	Route  []string `json:"route"`  // edge IDs, traversed in order
	Depart float64  `json:"depart"` // simulation time of insertion, seconds
	Speed  float64  `json:"speed"`  // cruising speed, m/s
}

// TrafficLightDef is one traffic light cycling through fixed phases.
type TrafficLightDef struct {
	ID     string     `json:"id"`
	Phases []PhaseDef `json:"phases"`
}

// PhaseDef is one signal phase.
type PhaseDef struct {
	State    string  `json:"state"`    // SUMO-style state string, e.g. "GrGr"
	Duration float64 `json:"duration"` // seconds
}

// DetectorDef is one induction loop placed on an edge.
type DetectorDef struct {
	ID       string  `json:"id"`
	Edge     string  `json:"edge"`
	Position float64 `json:"position"` // meters from the edge start
}

// ValidateScenarioConfig validates a scenario configuration for correctness.
// A config that passes is guaranteed to be acceptable to its engine's Open.
func ValidateScenarioConfig(config *ScenarioConfig) error {
	if config.Name == "" {
		return fmt.Errorf("scenario validation: name is required")
	}
	if config.StepLength == 0 {
		config.StepLength = 1.0
	}
	if config.StepLength < MinStepLength || config.StepLength > MaxStepLength {
		return fmt.Errorf("scenario validation: step_length must be between %g and %g, got %g",
			MinStepLength, MaxStepLength, config.StepLength)
	}

	switch config.Engine {
	case ModeTraCI:
		return validateTraCIConfig(config.TraCI)
	case ModeLocal:
		return validateWorld(config.World)
	case "":
		return fmt.Errorf("scenario validation: engine is required (%q or %q)", ModeTraCI, ModeLocal)
	default:
		return fmt.Errorf("scenario validation: unknown engine %q", config.Engine)
	}
}

func validateTraCIConfig(tc *TraCIConfig) error {
	if tc == nil {
		return fmt.Errorf("scenario validation: traci section is required for the traci engine")
	}
	if tc.AutoStart {
		if tc.ConfigFile == "" && tc.NetFile == "" {
			return fmt.Errorf("scenario validation: traci.config_file or traci.net_file is required with auto_start")
		}
	} else {
		if tc.Host == "" {
			return fmt.Errorf("scenario validation: traci.host is required")
		}
	}
	if tc.Port <= 0 || tc.Port > 65535 {
		return fmt.Errorf("scenario validation: traci.port must be between 1 and 65535, got %d", tc.Port)
	}
	return nil
}

func validateWorld(w *World) error {
	if w == nil {
		return fmt.Errorf("scenario validation: world section is required for the local engine")
	}
	if len(w.Edges) == 0 {
		return fmt.Errorf("scenario validation: world must define at least one edge")
	}

	edges := make(map[string]EdgeDef, len(w.Edges))
	for i, e := range w.Edges {
		if e.ID == "" {
			return fmt.Errorf("scenario validation: edge %d has no id", i+1)
		}
		if _, dup := edges[e.ID]; dup {
			return fmt.Errorf("scenario validation: duplicate edge id %q", e.ID)
		}
		if e.Length <= 0 {
			return fmt.Errorf("scenario validation: edge %q length must be positive, got %g", e.ID, e.Length)
		}
		if e.SpeedLimit <= 0 {
			return fmt.Errorf("scenario validation: edge %q speed_limit must be positive, got %g", e.ID, e.SpeedLimit)
		}
		edges[e.ID] = e
	}

	seenVehicles := make(map[string]bool, len(w.Vehicles))
	for _, v := range w.Vehicles {
		if v.ID == "" {
			return fmt.Errorf("scenario validation: vehicle with empty id")
		}
		if seenVehicles[v.ID] {
			return fmt.Errorf("scenario validation: duplicate vehicle id %q", v.ID)
		}
		seenVehicles[v.ID] = true
		if len(v.Route) == 0 {
			return fmt.Errorf("scenario validation: vehicle %q has an empty route", v.ID)
		}
		for _, edgeID := range v.Route {
			if _, ok := edges[edgeID]; !ok {
				return fmt.Errorf("scenario validation: vehicle %q references unknown edge %q", v.ID, edgeID)
			}
		}
		if v.Depart < 0 {
			return fmt.Errorf("scenario validation: vehicle %q depart must be >= 0, got %g", v.ID, v.Depart)
		}
		if v.Speed <= 0 {
			return fmt.Errorf("scenario validation: vehicle %q speed must be positive, got %g", v.ID, v.Speed)
		}
	}

	for _, tl := range w.TrafficLights {
		if tl.ID == "" {
			return fmt.Errorf("scenario validation: traffic light with empty id")
		}
		if len(tl.Phases) == 0 {
			return fmt.Errorf("scenario validation: traffic light %q has no phases", tl.ID)
		}
		for i, p := range tl.Phases {
			if p.State == "" {
				return fmt.Errorf("scenario validation: traffic light %q phase %d has no state", tl.ID, i+1)
			}
			if p.Duration <= 0 {
				return fmt.Errorf("scenario validation: traffic light %q phase %d duration must be positive", tl.ID, i+1)
			}
		}
	}

	for _, d := range w.Detectors {
		if d.ID == "" {
			return fmt.Errorf("scenario validation: detector with empty id")
		}
		edge, ok := edges[d.Edge]
		if !ok {
			return fmt.Errorf("scenario validation: detector %q references unknown edge %q", d.ID, d.Edge)
		}
		if d.Position < 0 || d.Position > edge.Length {
			return fmt.Errorf("scenario validation: detector %q position %g is outside edge %q (length %g)",
				d.ID, d.Position, d.Edge, edge.Length)
		}
	}

	return nil
}
