package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/service"
)

// Client is a thin MCP client that proxies to the REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API.
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"SUMO Simulation Bridge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`SUMO Simulation Bridge - MCP Interface

This is a thin client that proxies all requests to the bridge REST API.

Sessions own an isolated simulation. Create one, step it, inspect it,
close it when done. Simulation time only advances when you call
step_simulation; queries between steps are consistent and cheap.

TYPICAL FLOW:
1. list_scenarios to see what can be loaded
2. create_session (optionally naming a scenario)
3. step_simulation to advance time
4. list_vehicles / get_vehicle_* / get_traffic_light to inspect state
5. close_session to release the simulation

Use bridge_instructions for the full tool reference.`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	sessionIDProp := map[string]interface{}{
		"type":        "string",
		"description": "Session ID returned by create_session",
	}
	vehicleIDProp := map[string]interface{}{
		"type":        "string",
		"description": "Vehicle identifier, e.g. veh0",
	}

	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new simulation session with an optional scenario selection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"scenario_id": map[string]interface{}{
					"type":        "string",
					"description": "Scenario to load (optional, defaults to the bridge default scenario)",
				},
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active simulation sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "close_session",
		Description: "Close a session and release its simulation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
			},
			Required: []string{"session_id"},
		},
	}, c.handleCloseSession)

	// Simulation control
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "step_simulation",
		Description: "Advance the simulation by one or more steps",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"steps": map[string]interface{}{
					"type":        "integer",
					"description": "Number of steps to advance (default 1)",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleStep)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "simulation_status",
		Description: "Get the current simulation time and entity counts for a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
			},
			Required: []string{"session_id"},
		},
	}, c.handleStatus)

	// Vehicle queries
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_vehicles",
		Description: "List the IDs of all vehicles currently in the simulation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
			},
			Required: []string{"session_id"},
		},
	}, c.handleListVehicles)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_vehicle",
		Description: "Get the full state of one vehicle (position, speed, acceleration, lane, route)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"vehicle_id": vehicleIDProp,
			},
			Required: []string{"session_id", "vehicle_id"},
		},
	}, c.handleGetVehicle)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_vehicle_speed",
		Description: "Get the current speed of a vehicle in m/s",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"vehicle_id": vehicleIDProp,
			},
			Required: []string{"session_id", "vehicle_id"},
		},
	}, c.vehicleAspectHandler(func(v *engine.VehicleState) string {
		return fmt.Sprintf("Vehicle %s speed: %.2f m/s", v.ID, v.Speed)
	}))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_vehicle_position",
		Description: "Get the current (x, y) position of a vehicle in meters",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"vehicle_id": vehicleIDProp,
			},
			Required: []string{"session_id", "vehicle_id"},
		},
	}, c.vehicleAspectHandler(func(v *engine.VehicleState) string {
		return fmt.Sprintf("Vehicle %s position: (%.2f, %.2f)", v.ID, v.Position.X, v.Position.Y)
	}))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_vehicle_acceleration",
		Description: "Get the current acceleration of a vehicle in m/s^2",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"vehicle_id": vehicleIDProp,
			},
			Required: []string{"session_id", "vehicle_id"},
		},
	}, c.vehicleAspectHandler(func(v *engine.VehicleState) string {
		return fmt.Sprintf("Vehicle %s acceleration: %.2f m/s^2", v.ID, v.Acceleration)
	}))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_vehicle_lane",
		Description: "Get the lane a vehicle is currently on",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"vehicle_id": vehicleIDProp,
			},
			Required: []string{"session_id", "vehicle_id"},
		},
	}, c.vehicleAspectHandler(func(v *engine.VehicleState) string {
		return fmt.Sprintf("Vehicle %s lane: %s", v.ID, v.LaneID)
	}))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_vehicle_route",
		Description: "Get the route of a vehicle (route ID and edge list)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"vehicle_id": vehicleIDProp,
			},
			Required: []string{"session_id", "vehicle_id"},
		},
	}, c.vehicleAspectHandler(formatVehicleRoute))

	// Traffic light and detector queries
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_traffic_lights",
		Description: "List the IDs of all traffic lights in the simulation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
			},
			Required: []string{"session_id"},
		},
	}, c.handleListTrafficLights)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_traffic_light",
		Description: "Get the current phase of a traffic light",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"tl_id": map[string]interface{}{
					"type":        "string",
					"description": "Traffic light identifier",
				},
			},
			Required: []string{"session_id", "tl_id"},
		},
	}, c.handleGetTrafficLight)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_detector",
		Description: "Get the last-step readings of an induction loop detector",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"detector_id": map[string]interface{}{
					"type":        "string",
					"description": "Detector identifier",
				},
			},
			Required: []string{"session_id", "detector_id"},
		},
	}, c.handleGetDetector)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_entities",
		Description: "List the IDs of all entities of one type (vehicle, traffic_light, detector)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProp,
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Entity type: vehicle, traffic_light or detector",
				},
			},
			Required: []string{"session_id", "type"},
		},
	}, c.handleListEntities)

	// Catalog and help
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_scenarios",
		Description: "List the scenarios available for session creation",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListScenarios)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "bridge_instructions",
		Description: "Get the full reference for the simulation bridge tools",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleInstructions)
}

// GetMCPServer returns the underlying MCP server, for stdio or HTTP serving.
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

// apiError carries the stable error code the REST API attaches to failures.
type apiError struct {
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

func (c *Client) apiCall(method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return &apiError{Code: errResp.Code, Message: errResp.Error}
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func stringArg(request mcp.CallToolRequest, name string) string {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := args[name].(string)
	return v
}

func intArg(request mcp.CallToolRequest, name string, def int) int {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return def
	}
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return def
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scenarioID := stringArg(request, "scenario_id")

	body := map[string]string{}
	if scenarioID != "" {
		body["scenario_id"] = scenarioID
	}

	var session service.SessionInfo
	err := c.apiCall("POST", "/api/sessions", body, &session)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\nScenario: %s (engine: %s)\nSimulation time: %.1fs\n",
		session.ID, session.Scenario, session.Engine, session.SimTime)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                   `json:"count"`
		Sessions []service.SessionInfo `json:"sessions"`
	}
	err := c.apiCall("GET", "/api/sessions", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No active sessions."), nil
	}

	result := fmt.Sprintf("Active Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		result += fmt.Sprintf("- %s (scenario: %s, t=%.1fs, state: %s, created: %s)\n",
			s.ID, s.Scenario, s.SimTime, s.State, s.CreatedAt.Format("15:04:05"))
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := stringArg(request, "session_id")

	var session service.SessionInfo
	err := c.apiCall("GET", fmt.Sprintf("/api/sessions/%s", sessionID), nil, &session)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleCloseSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := stringArg(request, "session_id")

	err := c.apiCall("DELETE", fmt.Sprintf("/api/sessions/%s", sessionID), nil, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Session %s closed.", sessionID)), nil
}

func (c *Client) handleStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := stringArg(request, "session_id")
	steps := intArg(request, "steps", 1)

	body := map[string]interface{}{"steps": steps}

	var result service.StepResult
	err := c.apiCall("POST", fmt.Sprintf("/api/sessions/%s/step", sessionID), body, &result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStepResult(&result)), nil
}

func (c *Client) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := stringArg(request, "session_id")

	var snap engine.Snapshot
	err := c.apiCall("GET", fmt.Sprintf("/api/sessions/%s/snapshot", sessionID), nil, &snap)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStatus(sessionID, &snap)), nil
}

func (c *Client) handleListVehicles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.listEntities(request, engine.EntityVehicle)
}

func (c *Client) handleListTrafficLights(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.listEntities(request, engine.EntityTrafficLight)
}

func (c *Client) handleListEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.listEntities(request, engine.EntityType(stringArg(request, "type")))
}

func (c *Client) listEntities(request mcp.CallToolRequest, entityType engine.EntityType) (*mcp.CallToolResult, error) {
	sessionID := stringArg(request, "session_id")

	var list service.EntityList
	path := fmt.Sprintf("/api/sessions/%s/entities/%s", sessionID, url.PathEscape(string(entityType)))
	err := c.apiCall("GET", path, nil, &list)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatEntityList(&list)), nil
}

func (c *Client) handleGetVehicle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, errResult := c.fetchVehicle(request)
	if errResult != nil {
		return errResult, nil
	}
	return mcp.NewToolResultText(formatVehicle(v)), nil
}

// vehicleAspectHandler builds a tool handler that fetches one vehicle and
// renders a single aspect of its state.
func (c *Client) vehicleAspectHandler(render func(*engine.VehicleState) string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, errResult := c.fetchVehicle(request)
		if errResult != nil {
			return errResult, nil
		}
		return mcp.NewToolResultText(render(v)), nil
	}
}

func (c *Client) fetchVehicle(request mcp.CallToolRequest) (*engine.VehicleState, *mcp.CallToolResult) {
	sessionID := stringArg(request, "session_id")
	vehicleID := stringArg(request, "vehicle_id")

	var v engine.VehicleState
	path := fmt.Sprintf("/api/sessions/%s/entities/vehicle/%s", sessionID, url.PathEscape(vehicleID))
	if err := c.apiCall("GET", path, nil, &v); err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	return &v, nil
}

func (c *Client) handleGetTrafficLight(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := stringArg(request, "session_id")
	tlID := stringArg(request, "tl_id")

	var tl engine.TrafficLightState
	path := fmt.Sprintf("/api/sessions/%s/entities/traffic_light/%s", sessionID, url.PathEscape(tlID))
	if err := c.apiCall("GET", path, nil, &tl); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatTrafficLight(&tl)), nil
}

func (c *Client) handleGetDetector(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := stringArg(request, "session_id")
	detectorID := stringArg(request, "detector_id")

	var d engine.DetectorState
	path := fmt.Sprintf("/api/sessions/%s/entities/detector/%s", sessionID, url.PathEscape(detectorID))
	if err := c.apiCall("GET", path, nil, &d); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatDetector(&d)), nil
}

func (c *Client) handleListScenarios(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var scenarios []service.ScenarioInfo
	err := c.apiCall("GET", "/api/scenarios", nil, &scenarios)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(scenarios) == 0 {
		return mcp.NewToolResultText("No scenarios configured; create_session will use the built-in default."), nil
	}

	result := "Available Scenarios:\n\n"
	for _, sc := range scenarios {
		result += fmt.Sprintf("• %s\n  %s\n  Engine: %s, step length: %.2fs\n\n",
			sc.ScenarioID, sc.Description, sc.Engine, sc.StepLength)
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `SUMO Simulation Bridge - Tool Reference

SESSIONS:
Each session owns one isolated simulation. Sessions idle too long are
expired by the bridge; a tool call against an expired session returns a
session_expired error and the session must be recreated.

- create_session [scenario_id]: start a simulation. Returns the session ID
  every other tool needs.
- list_sessions / get_session / close_session: manage active sessions.

STEPPING:
- step_simulation [steps]: advance simulation time. Nothing moves unless
  you step. Stepping invalidates cached state, so query after stepping.
- A step_simulation error with code simulation_fault or timeout means the
  underlying simulation is broken; the session must be closed and a new
  one created (further calls return stale_handle).

INSPECTION (read-only, consistent between steps):
- simulation_status: current time plus entity counts.
- list_vehicles, list_traffic_lights, list_entities [type]: ID listings.
- get_vehicle: full vehicle state.
- get_vehicle_speed / get_vehicle_position / get_vehicle_acceleration /
  get_vehicle_lane / get_vehicle_route: single aspects of one vehicle.
- get_traffic_light: phase index and SUMO state string (e.g. "GrGr").
- get_detector: induction loop readings from the last step.

SCENARIOS:
- list_scenarios: what create_session can load. Scenarios using the
  "traci" engine connect to a live SUMO process; "local" scenarios run a
  built-in deterministic model, useful without SUMO installed.

ERROR CODES:
session_not_found, session_expired, capacity_exceeded, entity_not_found,
validation_error, config_error, connection_error, simulation_fault,
stale_handle, timeout.`

	return mcp.NewToolResultText(instructions), nil
}
