// Package cache holds the most recently captured entity snapshots so that
// repeated queries within one simulation generation do not hit the engine
// again. Entries are keyed by handle identity, simulation time, and the
// canonical filter key; a step invalidates every entry for the affected
// handle, bounding memory to one generation per live handle.
package cache
