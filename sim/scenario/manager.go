package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/service"
)

var (
	ErrScenarioNotFound = errors.New("scenario not found")
	ErrInvalidScenario  = errors.New("invalid scenario")
)

// Manager handles scenario configuration loading and caching.
type Manager struct {
	scenarioDir     string
	defaultScenario *engine.ScenarioConfig
	scenarios       map[string]*engine.ScenarioConfig
	mu              sync.RWMutex
}

// NewManager creates a scenario manager over the given directory.
// defaultName selects the scenario used when a session names none; empty
// means "two_lane".
func NewManager(scenarioDir, defaultName string) (*Manager, error) {
	if _, err := os.Stat(scenarioDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("scenario directory does not exist: %s", scenarioDir)
	}

	m := &Manager{
		scenarioDir: scenarioDir,
		scenarios:   make(map[string]*engine.ScenarioConfig),
	}
	m.loadDefaultScenario(defaultName)
	return m, nil
}

// Load loads a scenario configuration by identifier. Identifiers name files
// inside the scenario directory only; path separators are rejected so a
// caller-supplied ID can never escape it.
func (m *Manager) Load(name string) (*engine.ScenarioConfig, error) {
	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("%w: %q", ErrScenarioNotFound, name)
	}

	m.mu.RLock()
	if cfg, exists := m.scenarios[name]; exists {
		m.mu.RUnlock()
		return cfg, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if cfg, exists := m.scenarios[name]; exists {
		return cfg, nil
	}

	filename := name
	if !strings.HasSuffix(filename, ".json") {
		filename = name + ".json"
	}
	path := filepath.Join(m.scenarioDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrScenarioNotFound, name)
		}
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var cfg engine.ScenarioConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := engine.ValidateScenarioConfig(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	m.scenarios[name] = &cfg
	return &cfg, nil
}

// List returns information about every loadable scenario in the directory.
func (m *Manager) List() ([]*service.ScenarioInfo, error) {
	entries, err := os.ReadDir(m.scenarioDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var infos []*service.ScenarioInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")

		cfg, err := m.Load(name)
		if err != nil {
			// Skip files that do not validate; the validate command reports
			// the details.
			continue
		}
		infos = append(infos, &service.ScenarioInfo{
			Filename:    entry.Name(),
			ScenarioID:  name,
			Name:        cfg.Name,
			Description: cfg.Description,
			Engine:      cfg.Engine,
			StepLength:  cfg.StepLength,
		})
	}
	return infos, nil
}

// Default returns the default scenario configuration.
func (m *Manager) Default() *engine.ScenarioConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultScenario
}

// loadDefaultScenario picks the named scenario when present, otherwise the
// first valid scenario in the directory, otherwise a built-in minimal world.
func (m *Manager) loadDefaultScenario(name string) {
	if name == "" {
		name = "two_lane"
	}
	if cfg, err := m.Load(name); err == nil {
		m.defaultScenario = cfg
		return
	}

	if infos, err := m.List(); err == nil && len(infos) > 0 {
		if cfg, err := m.Load(infos[0].ScenarioID); err == nil {
			m.defaultScenario = cfg
			return
		}
	}

	m.defaultScenario = minimalScenario()
}

// minimalScenario is the fallback used when the scenario directory holds
// nothing loadable.
func minimalScenario() *engine.ScenarioConfig {
	return &engine.ScenarioConfig{
		Name:        "minimal",
		Description: "Built-in single-edge fallback scenario",
		Engine:      engine.ModeLocal,
		StepLength:  1.0,
		World: &engine.World{
			Edges: []engine.EdgeDef{
				{ID: "main", Length: 500, SpeedLimit: 13.9},
			},
			Vehicles: []engine.VehicleDef{
				{ID: "veh0", Route: []string{"main"}, Depart: 0, Speed: 10},
			},
		},
	}
}
