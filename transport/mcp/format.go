package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/service"
)

func formatSessionInfo(session *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", session.ID)
	fmt.Fprintf(&b, "Scenario: %s (engine: %s)\n", session.Scenario, session.Engine)
	fmt.Fprintf(&b, "State: %s\n", session.State)
	fmt.Fprintf(&b, "Simulation time: %.1fs\n", session.SimTime)
	fmt.Fprintf(&b, "Created: %s\n", session.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Last accessed: %s\n", session.LastAccessedAt.Format("15:04:05"))
	return b.String()
}

func formatStepResult(result *service.StepResult) string {
	return fmt.Sprintf("Advanced %d step(s): t=%.1fs -> t=%.1fs",
		result.StepsExecuted, result.TimeBefore, result.SimTime)
}

func formatStatus(sessionID string, snap *engine.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s at t=%.1fs\n", sessionID, snap.Time)
	fmt.Fprintf(&b, "Vehicles: %d\n", len(snap.Vehicles))
	fmt.Fprintf(&b, "Traffic lights: %d\n", len(snap.TrafficLights))
	fmt.Fprintf(&b, "Detectors: %d\n", len(snap.Detectors))
	return b.String()
}

func formatEntityList(list *service.EntityList) string {
	if list.Count == 0 {
		return fmt.Sprintf("No entities of type %s at t=%.1fs.", list.Type, list.SimTime)
	}
	ids := make([]string, len(list.IDs))
	copy(ids, list.IDs)
	sort.Strings(ids)
	return fmt.Sprintf("%s IDs at t=%.1fs (%d):\n%s",
		list.Type, list.SimTime, list.Count, strings.Join(ids, "\n"))
}

func formatVehicle(v *engine.VehicleState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle: %s\n", v.ID)
	fmt.Fprintf(&b, "Position: (%.2f, %.2f)\n", v.Position.X, v.Position.Y)
	fmt.Fprintf(&b, "Speed: %.2f m/s\n", v.Speed)
	fmt.Fprintf(&b, "Acceleration: %.2f m/s^2\n", v.Acceleration)
	fmt.Fprintf(&b, "Angle: %.1f deg\n", v.Angle)
	fmt.Fprintf(&b, "Lane: %s\n", v.LaneID)
	fmt.Fprintf(&b, "Route: %s", v.RouteID)
	if len(v.RouteEdges) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(v.RouteEdges, " "))
	}
	b.WriteString("\n")
	return b.String()
}

func formatVehicleRoute(v *engine.VehicleState) string {
	if len(v.RouteEdges) == 0 {
		return fmt.Sprintf("Vehicle %s route: %s (edge list unavailable)", v.ID, v.RouteID)
	}
	return fmt.Sprintf("Vehicle %s route: %s\nEdges: %s",
		v.ID, v.RouteID, strings.Join(v.RouteEdges, " "))
}

func formatTrafficLight(tl *engine.TrafficLightState) string {
	return fmt.Sprintf("Traffic light %s: phase %d, state %q", tl.ID, tl.Phase, tl.PhaseState)
}

func formatDetector(d *engine.DetectorState) string {
	speed := "no vehicles"
	if d.MeanSpeed >= 0 {
		speed = fmt.Sprintf("%.2f m/s mean speed", d.MeanSpeed)
	}
	return fmt.Sprintf("Detector %s: %d vehicle(s) last step, %.1f%% occupancy, %s",
		d.ID, d.VehicleCount, d.Occupancy, speed)
}
