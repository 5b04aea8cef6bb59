// Package scenario loads and caches scenario configurations.
//
// Scenarios are JSON files in a directory, one per file; the file name
// without extension is the scenario identifier used for session creation.
// Every scenario is validated on load, so a config that reaches an engine is
// known to be well formed. ErrScenarioNotFound and ErrInvalidScenario make
// up the bridge's config-error family: they are caller mistakes, never touch
// a simulation, and are not retryable without fixing the input.
package scenario
