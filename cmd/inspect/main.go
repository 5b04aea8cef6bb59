// Command inspect prints quick, human-readable summaries of scenario files.
// It reports the engine mode, network size, total route lengths per vehicle,
// and a rough lower bound on how long each vehicle needs to finish its route
// at the edge speed limits.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmobility/sumo-mcp/sim/engine"
)

func main() {
	scenarioDir := flag.String("dir", "scenarios", "Directory containing scenario JSON files")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		var err error
		files, err = filepath.Glob(filepath.Join(*scenarioDir, "*.json"))
		if err != nil || len(files) == 0 {
			fmt.Printf("No scenario files found in %s\n", *scenarioDir)
			os.Exit(1)
		}
	}

	for _, file := range files {
		fmt.Printf("\n=== Inspecting %s ===\n", filepath.Base(file))
		inspectScenario(file)
	}
}

func inspectScenario(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		return
	}

	var cfg engine.ScenarioConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		fmt.Printf("Error parsing JSON: %v\n", err)
		return
	}

	fmt.Printf("Name: %s\n", cfg.Name)
	if cfg.Description != "" {
		fmt.Printf("Description: %s\n", cfg.Description)
	}
	fmt.Printf("Engine: %s\n", cfg.Engine)
	stepLength := cfg.StepLength
	if stepLength == 0 {
		stepLength = 1.0
	}
	fmt.Printf("Step length: %gs\n", stepLength)

	switch cfg.Engine {
	case engine.ModeTraCI:
		inspectTraCI(cfg.TraCI)
	case engine.ModeLocal:
		inspectWorld(cfg.World)
	default:
		fmt.Printf("Unknown engine mode %q\n", cfg.Engine)
	}
}

func inspectTraCI(tc *engine.TraCIConfig) {
	if tc == nil {
		fmt.Println("Missing traci section")
		return
	}
	if tc.AutoStart {
		binary := tc.Binary
		if binary == "" {
			binary = "sumo"
		}
		fmt.Printf("Launches: %s (port %d)\n", binary, tc.Port)
		if tc.ConfigFile != "" {
			fmt.Printf("Config file: %s\n", tc.ConfigFile)
		}
		if tc.NetFile != "" {
			fmt.Printf("Net file: %s, route files: %v\n", tc.NetFile, tc.RouteFiles)
		}
	} else {
		fmt.Printf("Connects to: %s:%d\n", tc.Host, tc.Port)
	}
}

func inspectWorld(w *engine.World) {
	if w == nil {
		fmt.Println("Missing world section")
		return
	}

	var networkLength float64
	edges := make(map[string]engine.EdgeDef, len(w.Edges))
	for _, e := range w.Edges {
		networkLength += e.Length
		edges[e.ID] = e
	}
	fmt.Printf("Network: %d edge(s), %.0fm total\n", len(w.Edges), networkLength)
	fmt.Printf("Traffic lights: %d, detectors: %d\n", len(w.TrafficLights), len(w.Detectors))

	fmt.Printf("Vehicles: %d\n", len(w.Vehicles))
	for _, v := range w.Vehicles {
		var routeLength, minTravel float64
		ok := true
		for _, edgeID := range v.Route {
			e, found := edges[edgeID]
			if !found {
				ok = false
				break
			}
			routeLength += e.Length
			speed := v.Speed
			if e.SpeedLimit < speed {
				speed = e.SpeedLimit
			}
			minTravel += e.Length / speed
		}
		if !ok {
			fmt.Printf("  %s: route references unknown edges\n", v.ID)
			continue
		}
		fmt.Printf("  %s: departs t=%gs, route %.0fm over %d edge(s), finishes after ~%.0fs\n",
			v.ID, v.Depart, routeLength, len(v.Route), v.Depart+minTravel)
	}
}
