package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmobility/sumo-mcp/sim/cache"
	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/local"
	"github.com/openmobility/sumo-mcp/sim/scenario"
	"github.com/openmobility/sumo-mcp/sim/service"
	"github.com/openmobility/sumo-mcp/sim/session"
)

const testScenarioJSON = `{
  "name": "straight",
  "description": "single edge test world",
  "engine": "local",
  "step_length": 1.0,
  "world": {
    "edges": [{"id": "main", "length": 500, "speed_limit": 13.9}],
    "vehicles": [{"id": "veh0", "route": ["main"], "depart": 0, "speed": 10}],
    "traffic_lights": [{"id": "tl0", "phases": [{"state": "Gr", "duration": 30}]}],
    "detectors": [{"id": "det0", "edge": "main", "position": 100}]
  }
}`

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "straight.json"), []byte(testScenarioJSON), 0644); err != nil {
		t.Fatalf("Failed to write scenario: %v", err)
	}

	scenarios, err := scenario.NewManager(dir, "straight")
	if err != nil {
		t.Fatalf("Failed to create scenario manager: %v", err)
	}
	sessions := session.NewManager(func(cfg *engine.ScenarioConfig) (engine.Engine, error) {
		return local.NewEngine(cfg)
	}, 4, time.Second)
	bridge := service.NewBridgeService(sessions, scenarios, cache.New(), 100)

	return NewServer(bridge, nil)
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	w := doRequest(t, srv, "POST", "/api/sessions", map[string]string{"scenario_id": "straight"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var info service.SessionInfo
	decodeResponse(t, w, &info)
	return info.ID
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	decodeResponse(t, w, &resp)
	return resp["code"]
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestServer_Sessions(t *testing.T) {
	srv := newTestServer(t)

	t.Run("create", func(t *testing.T) {
		id := createSession(t, srv)
		if id == "" {
			t.Error("Expected a session ID")
		}
	})

	t.Run("create with default scenario", func(t *testing.T) {
		w := doRequest(t, srv, "POST", "/api/sessions", nil)
		if w.Code != http.StatusCreated {
			t.Errorf("Expected 201, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("create with malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader("{scenario_id: not json"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
		}
		if code := errorCode(t, w); code != CodeValidationError {
			t.Errorf("Expected validation_error, got %s", code)
		}
	})

	t.Run("create with unknown scenario", func(t *testing.T) {
		w := doRequest(t, srv, "POST", "/api/sessions", map[string]string{"scenario_id": "nope"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		if code := errorCode(t, w); code != CodeConfigError {
			t.Errorf("Expected config_error, got %s", code)
		}
	})

	t.Run("list", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var resp struct {
			Count    int                    `json:"count"`
			Sessions []*service.SessionInfo `json:"sessions"`
		}
		decodeResponse(t, w, &resp)
		if resp.Count != 2 {
			t.Errorf("Expected 2 sessions, got %d", resp.Count)
		}
	})

	t.Run("get unknown session", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/nope", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
		if code := errorCode(t, w); code != CodeSessionNotFound {
			t.Errorf("Expected session_not_found, got %s", code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		id := createSession(t, srv)
		w := doRequest(t, srv, "DELETE", "/api/sessions/"+id, nil)
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
		w = doRequest(t, srv, "GET", "/api/sessions/"+id, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 after delete, got %d", w.Code)
		}
	})
}

func TestServer_Step(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	t.Run("advance", func(t *testing.T) {
		w := doRequest(t, srv, "POST", "/api/sessions/"+id+"/step", map[string]int{"steps": 5})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var result service.StepResult
		decodeResponse(t, w, &result)
		if result.SimTime != 5 {
			t.Errorf("Expected sim time 5, got %g", result.SimTime)
		}
	})

	t.Run("default step count is one", func(t *testing.T) {
		w := doRequest(t, srv, "POST", "/api/sessions/"+id+"/step", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var result service.StepResult
		decodeResponse(t, w, &result)
		if result.StepsExecuted != 1 {
			t.Errorf("Expected 1 step, got %d", result.StepsExecuted)
		}
	})

	t.Run("invalid step count", func(t *testing.T) {
		w := doRequest(t, srv, "POST", "/api/sessions/"+id+"/step", map[string]int{"steps": -1})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		if code := errorCode(t, w); code != CodeValidationError {
			t.Errorf("Expected validation_error, got %s", code)
		}
	})

	t.Run("malformed body never advances the simulation", func(t *testing.T) {
		fresh := createSession(t, srv)

		req := httptest.NewRequest("POST", "/api/sessions/"+fresh+"/step", strings.NewReader("{steps: not json"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
		}
		if code := errorCode(t, w); code != CodeValidationError {
			t.Errorf("Expected validation_error, got %s", code)
		}

		w = doRequest(t, srv, "GET", "/api/sessions/"+fresh+"/snapshot", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var snap engine.Snapshot
		decodeResponse(t, w, &snap)
		if snap.Time != 0 {
			t.Errorf("Expected sim time 0 after rejected step, got %g", snap.Time)
		}
	})
}

func TestServer_Entities(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)
	doRequest(t, srv, "POST", "/api/sessions/"+id+"/step", map[string]int{"steps": 3})

	t.Run("full snapshot", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/"+id+"/snapshot", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var snap engine.Snapshot
		decodeResponse(t, w, &snap)
		if snap.Time != 3 {
			t.Errorf("Expected time 3, got %g", snap.Time)
		}
		if len(snap.Vehicles) != 1 {
			t.Errorf("Expected 1 vehicle, got %d", len(snap.Vehicles))
		}
	})

	t.Run("filtered snapshot", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/"+id+"/snapshot?types=vehicle&ids=veh0", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var snap engine.Snapshot
		decodeResponse(t, w, &snap)
		if len(snap.Vehicles) != 1 || len(snap.TrafficLights) != 0 {
			t.Errorf("Expected vehicles only, got %+v", snap)
		}
	})

	t.Run("invalid filter type", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/"+id+"/snapshot?types=pedestrian", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("list by type", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/"+id+"/entities/vehicle", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var list service.EntityList
		decodeResponse(t, w, &list)
		if list.Count != 1 || list.IDs[0] != "veh0" {
			t.Errorf("Unexpected entity list: %+v", list)
		}
	})

	t.Run("single vehicle", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/"+id+"/entities/vehicle/veh0", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var v engine.VehicleState
		decodeResponse(t, w, &v)
		if v.ID != "veh0" || v.Speed != 10 {
			t.Errorf("Unexpected vehicle: %+v", v)
		}
	})

	t.Run("single traffic light", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/"+id+"/entities/traffic_light/tl0", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
	})

	t.Run("missing entity", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/"+id+"/entities/vehicle/ghost", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
		if code := errorCode(t, w); code != CodeEntityNotFound {
			t.Errorf("Expected entity_not_found, got %s", code)
		}
	})

	t.Run("unknown entity type", func(t *testing.T) {
		w := doRequest(t, srv, "GET", "/api/sessions/"+id+"/entities/pedestrian/p0", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})
}

func TestServer_Scenarios(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "GET", "/api/scenarios", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var scenarios []*service.ScenarioInfo
	decodeResponse(t, w, &scenarios)
	if len(scenarios) != 1 || scenarios[0].ScenarioID != "straight" {
		t.Errorf("Unexpected scenarios: %+v", scenarios)
	}
}

func TestServer_CapacityCode(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 4; i++ {
		createSession(t, srv)
	}

	w := doRequest(t, srv, "POST", "/api/sessions", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if code := errorCode(t, w); code != CodeCapacityExceeded {
		t.Errorf("Expected capacity_exceeded, got %s", code)
	}
}

func TestServer_StepLimit(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	w := doRequest(t, srv, "POST", fmt.Sprintf("/api/sessions/%s/step", id), map[string]int{"steps": 1000})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 above the per-call limit, got %d", w.Code)
	}
	if code := errorCode(t, w); code != CodeValidationError {
		t.Errorf("Expected validation_error, got %s", code)
	}
}
