// Package local provides a deterministic in-process simulation engine.
//
// The local engine implements the same Engine contract as the TraCI client
// but needs no SUMO installation: vehicles advance along their route edges at
// a fixed cruising speed (capped by each edge's speed limit), traffic lights
// cycle through their configured phases, and induction-loop detectors count
// vehicles crossing their position. Given the same scenario and the same step
// sequence, the produced snapshots are identical.
//
// It exists for development, demos, and tests of the layers above the engine
// boundary.
package local
