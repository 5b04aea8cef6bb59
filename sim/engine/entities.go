package engine

// EntityType identifies a class of simulated objects.
type EntityType string

const (
	EntityVehicle      EntityType = "vehicle"
	EntityTrafficLight EntityType = "traffic_light"
	EntityDetector     EntityType = "detector"
)

// EntityTypes lists all known entity types in display order.
var EntityTypes = []EntityType{EntityVehicle, EntityTrafficLight, EntityDetector}

// Valid reports whether t names a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityVehicle, EntityTrafficLight, EntityDetector:
		return true
	}
	return false
}

// Position is a 2D point in network coordinates (meters).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VehicleState is the observed state of one vehicle.
type VehicleState struct {
	ID           string   `json:"id"`
	Position     Position `json:"position"`
	Speed        float64  `json:"speed"`        // m/s
	Acceleration float64  `json:"acceleration"` // m/s^2
	Angle        float64  `json:"angle"`        // degrees, 0 = north
	LaneID       string   `json:"lane_id"`
	RouteID      string   `json:"route_id"`
	RouteEdges   []string `json:"route_edges"`
}

// TrafficLightState is the observed state of one traffic light program.
type TrafficLightState struct {
	ID         string `json:"id"`
	Phase      int    `json:"phase"`
	PhaseState string `json:"phase_state"` // SUMO state string, e.g. "GrGr"
}

// DetectorState is the observed state of one induction-loop detector.
type DetectorState struct {
	ID           string  `json:"id"`
	VehicleCount int     `json:"vehicle_count"` // vehicles seen in the last step
	Occupancy    float64 `json:"occupancy"`     // percent of the last step occupied
	MeanSpeed    float64 `json:"mean_speed"`    // m/s, -1 when no vehicle was seen
}

// Snapshot is the state of the selected entities at one simulation time.
// A snapshot is immutable once captured; the next Step supersedes it.
type Snapshot struct {
	Time          float64                      `json:"time"`
	Vehicles      map[string]VehicleState      `json:"vehicles,omitempty"`
	TrafficLights map[string]TrafficLightState `json:"traffic_lights,omitempty"`
	Detectors     map[string]DetectorState     `json:"detectors,omitempty"`
}

// EntityCount returns the number of entities captured across all types.
func (s *Snapshot) EntityCount() int {
	return len(s.Vehicles) + len(s.TrafficLights) + len(s.Detectors)
}

// IDs returns the captured identifiers for one entity type.
func (s *Snapshot) IDs(t EntityType) []string {
	var ids []string
	switch t {
	case EntityVehicle:
		for id := range s.Vehicles {
			ids = append(ids, id)
		}
	case EntityTrafficLight:
		for id := range s.TrafficLights {
			ids = append(ids, id)
		}
	case EntityDetector:
		for id := range s.Detectors {
			ids = append(ids, id)
		}
	}
	return ids
}
