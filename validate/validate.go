// Command validate provides a small CLI that validates scenario JSON files.
// It checks:
//   - JSON structure and the per-engine required sections
//   - Edge, vehicle, traffic light, and detector consistency
//   - Route references against the defined edges
//
// It also prints informational warnings for things that load fine but look
// suspicious, such as a local world with no vehicles.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmobility/sumo-mcp/sim/engine"
)

// ValidationResult captures the outcome of validating a single file.
type ValidationResult struct {
	File     string
	Valid    bool
	Errors   []string
	Warnings []string
}

// validateScenario loads and validates a single scenario JSON file.
func validateScenario(filePath string) ValidationResult {
	result := ValidationResult{
		File:  filepath.Base(filePath),
		Valid: true,
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	var cfg engine.ScenarioConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid JSON: %v", err))
		return result
	}

	if err := engine.ValidateScenarioConfig(&cfg); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result.Warnings = append(result.Warnings, lintScenario(&cfg)...)
	return result
}

// lintScenario reports conditions that are legal but probably unintended.
func lintScenario(cfg *engine.ScenarioConfig) []string {
	var warnings []string

	if cfg.Description == "" {
		warnings = append(warnings, "no description")
	}

	switch cfg.Engine {
	case engine.ModeLocal:
		if len(cfg.World.Vehicles) == 0 {
			warnings = append(warnings, "world defines no vehicles; queries will return empty snapshots")
		}
		for _, v := range cfg.World.Vehicles {
			for _, e := range cfg.World.Edges {
				if e.ID != v.Route[0] {
					continue
				}
				if v.Speed > e.SpeedLimit {
					warnings = append(warnings, fmt.Sprintf(
						"vehicle %q speed %g exceeds speed limit %g of its first edge %q (will be clamped)",
						v.ID, v.Speed, e.SpeedLimit, e.ID))
				}
			}
		}
	case engine.ModeTraCI:
		if cfg.TraCI.AutoStart && cfg.TraCI.Binary == "" {
			warnings = append(warnings, `auto_start without binary; "sumo" must be on PATH`)
		}
	}

	return warnings
}

func main() {
	scenarioDir := flag.String("dir", "scenarios", "Directory containing scenario JSON files")
	flag.Parse()

	files, err := filepath.Glob(filepath.Join(*scenarioDir, "*.json"))
	if err != nil {
		fmt.Printf("Error finding scenario files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Printf("No scenario files found in %s\n", *scenarioDir)
		os.Exit(1)
	}

	allValid := true
	for _, file := range files {
		result := validateScenario(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Println("  ❌ " + err)
			}
		}
		for _, warn := range result.Warnings {
			fmt.Println("  ⚠️  " + warn)
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All scenarios are valid!")
	} else {
		fmt.Println("❌ Some scenarios have errors")
		os.Exit(1)
	}
}
