package traci

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openmobility/sumo-mcp/sim/engine"
)

// dial retry interval while waiting for SUMO to accept connections
const dialRetryInterval = 200 * time.Millisecond

// Client drives one SUMO process over TraCI. It implements engine.Engine.
// Not safe for concurrent use; the handle layer serializes all calls.
type Client struct {
	cfg        *engine.TraCIConfig
	stepLength float64
	conn       net.Conn
	proc       *exec.Cmd
	apiVersion int
}

// New builds a TraCI client from a validated scenario configuration.
func New(cfg *engine.ScenarioConfig) (*Client, error) {
	if err := engine.ValidateScenarioConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Engine != engine.ModeTraCI {
		return nil, fmt.Errorf("traci client: scenario %q uses engine %q", cfg.Name, cfg.Engine)
	}
	return &Client{cfg: cfg.TraCI, stepLength: cfg.StepLength}, nil
}

// Open launches SUMO if auto_start is set, dials the TraCI port, and performs
// the version handshake. All failures wrap engine.ErrConnection.
func (c *Client) Open(ctx context.Context) error {
	if c.conn != nil {
		return fmt.Errorf("%w: already connected", engine.ErrConnection)
	}

	host := c.cfg.Host
	if host == "" {
		host = "localhost"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(c.cfg.Port))

	if c.cfg.AutoStart {
		if err := c.startProcess(ctx); err != nil {
			return fmt.Errorf("%w: %v", engine.ErrConnection, err)
		}
	}

	conn, err := c.dialWithRetry(ctx, addr)
	if err != nil {
		c.stopProcess()
		return fmt.Errorf("%w: dial %s: %v", engine.ErrConnection, addr, err)
	}
	c.conn = conn

	if err := c.handshake(ctx); err != nil {
		c.conn.Close()
		c.conn = nil
		c.stopProcess()
		return fmt.Errorf("%w: handshake: %v", engine.ErrConnection, err)
	}

	log.Info().Str("addr", addr).Int("api_version", c.apiVersion).Msg("connected to SUMO")
	return nil
}

// startProcess launches the SUMO binary listening on the configured port.
func (c *Client) startProcess(ctx context.Context) error {
	binary := c.cfg.Binary
	if binary == "" {
		binary = "sumo"
	}

	args := []string{"--remote-port", strconv.Itoa(c.cfg.Port)}
	if c.stepLength > 0 {
		args = append(args, "--step-length", strconv.FormatFloat(c.stepLength, 'f', -1, 64))
	}
	switch {
	case c.cfg.ConfigFile != "":
		args = append(args, "-c", c.cfg.ConfigFile)
	case c.cfg.NetFile != "":
		args = append(args, "-n", c.cfg.NetFile)
		if len(c.cfg.RouteFiles) > 0 {
			args = append(args, "-r", strings.Join(c.cfg.RouteFiles, ","))
		}
	}

	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}
	c.proc = cmd
	log.Info().Str("binary", binary).Strs("args", args).Int("pid", cmd.Process.Pid).Msg("launched SUMO")
	return nil
}

func (c *Client) stopProcess() {
	if c.proc == nil {
		return
	}
	if c.proc.Process != nil {
		c.proc.Process.Kill()
	}
	c.proc.Wait()
	c.proc = nil
}

// dialWithRetry keeps trying until the context expires. SUMO takes a moment
// to open its TraCI port after launch.
func (c *Client) dialWithRetry(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	var lastErr error
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return nil, lastErr
		case <-time.After(dialRetryInterval):
		}
	}
}

func (c *Client) handshake(ctx context.Context) error {
	cmds, err := c.roundTrip(ctx, command{id: cmdGetVersion})
	if err != nil {
		return err
	}
	for _, cm := range cmds {
		if cm.id != cmdGetVersion {
			continue
		}
		p := &payloadReader{buf: cm.payload}
		apiVersion, err := p.int32()
		if err != nil {
			return err
		}
		c.apiVersion = int(apiVersion)
		return nil
	}
	return fmt.Errorf("no version response")
}

// Step advances the simulation by n steps and returns the new simulation
// time. Engine-side failures wrap engine.ErrSimulationFault.
func (c *Client) Step(ctx context.Context, n int) (float64, error) {
	if c.conn == nil {
		return 0, fmt.Errorf("%w: not connected", engine.ErrSimulationFault)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: step count must be >= 1, got %d", engine.ErrSimulationFault, n)
	}

	for i := 0; i < n; i++ {
		var w payloadWriter
		w.writeDouble(0) // zero target time advances exactly one step
		if _, err := c.roundTrip(ctx, command{id: cmdSimStep, payload: w.bytes()}); err != nil {
			return 0, c.stepError(err)
		}
	}
	return c.simTime(ctx)
}

func (c *Client) stepError(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", engine.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", engine.ErrSimulationFault, err)
}

// simTime reads the simulation clock.
func (c *Client) simTime(ctx context.Context) (float64, error) {
	resp, err := c.getVariable(ctx, cmdGetSimVar, varTime, "")
	if err != nil {
		return 0, c.stepError(err)
	}
	return resp.asDouble()
}

// Query captures the filtered entity state at the current simulation time.
func (c *Client) Query(ctx context.Context, filter engine.Filter) (*engine.Snapshot, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("%w: not connected", engine.ErrSimulationFault)
	}

	t, err := c.simTime(ctx)
	if err != nil {
		return nil, err
	}
	snap := &engine.Snapshot{Time: t}

	if filter.WantsType(engine.EntityVehicle) {
		snap.Vehicles = make(map[string]engine.VehicleState)
		ids, err := c.entityIDs(ctx, cmdGetVehicleVar, filter)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			vs, err := c.vehicleState(ctx, id)
			if err != nil {
				return nil, err
			}
			snap.Vehicles[id] = vs
		}
	}

	if filter.WantsType(engine.EntityTrafficLight) {
		snap.TrafficLights = make(map[string]engine.TrafficLightState)
		ids, err := c.entityIDs(ctx, cmdGetTLVar, filter)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			ts, err := c.trafficLightState(ctx, id)
			if err != nil {
				return nil, err
			}
			snap.TrafficLights[id] = ts
		}
	}

	if filter.WantsType(engine.EntityDetector) {
		snap.Detectors = make(map[string]engine.DetectorState)
		ids, err := c.entityIDs(ctx, cmdGetInductionVar, filter)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			ds, err := c.detectorState(ctx, id)
			if err != nil {
				return nil, err
			}
			snap.Detectors[id] = ds
		}
	}

	return snap, nil
}

// entityIDs resolves the identifiers to query for one domain: the filter's
// explicit IDs when present, the engine's full ID list otherwise.
func (c *Client) entityIDs(ctx context.Context, domain byte, filter engine.Filter) ([]string, error) {
	if len(filter.IDs) > 0 {
		return filter.IDs, nil
	}
	resp, err := c.getVariable(ctx, domain, varIDList, "")
	if err != nil {
		return nil, c.queryError(err)
	}
	return resp.asStringList()
}

func (c *Client) vehicleState(ctx context.Context, id string) (engine.VehicleState, error) {
	vs := engine.VehicleState{ID: id}

	fetch := func(variable byte) (*varResponse, error) {
		return c.getVariable(ctx, cmdGetVehicleVar, variable, id)
	}

	resp, err := fetch(varSpeed)
	if err != nil {
		return vs, c.queryError(err)
	}
	if vs.Speed, err = resp.asDouble(); err != nil {
		return vs, err
	}

	if resp, err = fetch(varPosition); err != nil {
		return vs, c.queryError(err)
	}
	if vs.Position.X, vs.Position.Y, err = resp.asPosition(); err != nil {
		return vs, err
	}

	if resp, err = fetch(varAcceleration); err != nil {
		return vs, c.queryError(err)
	}
	if vs.Acceleration, err = resp.asDouble(); err != nil {
		return vs, err
	}

	if resp, err = fetch(varAngle); err != nil {
		return vs, c.queryError(err)
	}
	if vs.Angle, err = resp.asDouble(); err != nil {
		return vs, err
	}

	if resp, err = fetch(varLaneID); err != nil {
		return vs, c.queryError(err)
	}
	if vs.LaneID, err = resp.asString(); err != nil {
		return vs, err
	}

	if resp, err = fetch(varRouteID); err != nil {
		return vs, c.queryError(err)
	}
	if vs.RouteID, err = resp.asString(); err != nil {
		return vs, err
	}

	if resp, err = fetch(varRouteEdges); err != nil {
		return vs, c.queryError(err)
	}
	if vs.RouteEdges, err = resp.asStringList(); err != nil {
		return vs, err
	}

	return vs, nil
}

func (c *Client) trafficLightState(ctx context.Context, id string) (engine.TrafficLightState, error) {
	ts := engine.TrafficLightState{ID: id}

	resp, err := c.getVariable(ctx, cmdGetTLVar, varTLState, id)
	if err != nil {
		return ts, c.queryError(err)
	}
	if ts.PhaseState, err = resp.asString(); err != nil {
		return ts, err
	}

	if resp, err = c.getVariable(ctx, cmdGetTLVar, varTLPhase, id); err != nil {
		return ts, c.queryError(err)
	}
	if ts.Phase, err = resp.asInt(); err != nil {
		return ts, err
	}

	return ts, nil
}

func (c *Client) detectorState(ctx context.Context, id string) (engine.DetectorState, error) {
	ds := engine.DetectorState{ID: id}

	resp, err := c.getVariable(ctx, cmdGetInductionVar, varVehicleCount, id)
	if err != nil {
		return ds, c.queryError(err)
	}
	if ds.VehicleCount, err = resp.asInt(); err != nil {
		return ds, err
	}

	if resp, err = c.getVariable(ctx, cmdGetInductionVar, varOccupancy, id); err != nil {
		return ds, c.queryError(err)
	}
	if ds.Occupancy, err = resp.asDouble(); err != nil {
		return ds, err
	}

	if resp, err = c.getVariable(ctx, cmdGetInductionVar, varMeanSpeed, id); err != nil {
		return ds, c.queryError(err)
	}
	if ds.MeanSpeed, err = resp.asDouble(); err != nil {
		return ds, err
	}

	return ds, nil
}

func (c *Client) queryError(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", engine.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", engine.ErrSimulationFault, err)
}

// getVariable performs one variable retrieval round trip and returns the
// decoded value response.
func (c *Client) getVariable(ctx context.Context, domain, variable byte, objectID string) (*varResponse, error) {
	cmds, err := c.roundTrip(ctx, command{id: domain, payload: getVarPayload(variable, objectID)})
	if err != nil {
		return nil, err
	}
	want := domain + responseOffset
	for _, cm := range cmds {
		if cm.id != want {
			continue
		}
		return decodeVarResponse(cm.payload)
	}
	return nil, fmt.Errorf("no value response for command 0x%02x variable 0x%02x", domain, variable)
}

// roundTrip sends one command and reads the full response message. The first
// response command must be an OK status for the sent command; the remaining
// commands are returned for the caller to interpret.
func (c *Client) roundTrip(ctx context.Context, cm command) ([]command, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write(encodeMessage(cm)); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	body, err := readMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	status, rest, err := decodeCommand(body)
	if err != nil {
		return nil, err
	}
	if status.id != cm.id {
		return nil, fmt.Errorf("status for command 0x%02x, expected 0x%02x", status.id, cm.id)
	}
	p := &payloadReader{buf: status.payload}
	result, err := p.ubyte()
	if err != nil {
		return nil, err
	}
	desc, err := p.string()
	if err != nil {
		return nil, err
	}
	if result != statusOK {
		return nil, fmt.Errorf("command 0x%02x failed: %s", cm.id, desc)
	}

	// A sim-step response carries a raw count of subscription results after
	// the status instead of command framing. The bridge never subscribes, so
	// the remainder is skipped.
	if cm.id == cmdSimStep {
		return nil, nil
	}
	return decodeCommands(rest)
}

// Close tells SUMO to shut down and releases the connection and process.
// Safe to call on any state and more than once.
func (c *Client) Close() error {
	if c.conn != nil {
		// best effort: SUMO exits cleanly on CMD_CLOSE
		c.conn.SetDeadline(time.Now().Add(2 * time.Second))
		c.conn.Write(encodeMessage(command{id: cmdClose}))
		readMessage(c.conn)
		c.conn.Close()
		c.conn = nil
	}
	c.stopProcess()
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
