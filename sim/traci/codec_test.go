package traci

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func TestMessageFraming(t *testing.T) {
	t.Run("roundtrip single command", func(t *testing.T) {
		msg := encodeMessage(command{id: cmdGetVersion})

		body, err := readMessage(bytes.NewReader(msg))
		if err != nil {
			t.Fatalf("readMessage failed: %v", err)
		}
		cmds, err := decodeCommands(body)
		if err != nil {
			t.Fatalf("decodeCommands failed: %v", err)
		}
		if len(cmds) != 1 || cmds[0].id != cmdGetVersion || len(cmds[0].payload) != 0 {
			t.Errorf("Unexpected commands: %+v", cmds)
		}
	})

	t.Run("roundtrip multiple commands", func(t *testing.T) {
		msg := encodeMessage(
			command{id: cmdGetVehicleVar, payload: getVarPayload(varSpeed, "veh0")},
			command{id: cmdSimStep, payload: []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		)

		body, err := readMessage(bytes.NewReader(msg))
		if err != nil {
			t.Fatalf("readMessage failed: %v", err)
		}
		cmds, err := decodeCommands(body)
		if err != nil {
			t.Fatalf("decodeCommands failed: %v", err)
		}
		if len(cmds) != 2 {
			t.Fatalf("Expected 2 commands, got %d", len(cmds))
		}
		if cmds[0].id != cmdGetVehicleVar || cmds[1].id != cmdSimStep {
			t.Errorf("Unexpected command ids: 0x%02x 0x%02x", cmds[0].id, cmds[1].id)
		}
	})

	t.Run("extended length command", func(t *testing.T) {
		// A payload above 253 bytes forces the zero-marker extended header.
		big := make([]byte, 1000)
		for i := range big {
			big[i] = byte(i)
		}
		msg := encodeMessage(command{id: cmdGetSimVar, payload: big})

		body, err := readMessage(bytes.NewReader(msg))
		if err != nil {
			t.Fatalf("readMessage failed: %v", err)
		}
		if body[0] != 0 {
			t.Fatalf("Expected extended length marker, got 0x%02x", body[0])
		}
		cmds, err := decodeCommands(body)
		if err != nil {
			t.Fatalf("decodeCommands failed: %v", err)
		}
		if len(cmds) != 1 || cmds[0].id != cmdGetSimVar {
			t.Fatalf("Unexpected commands: %d", len(cmds))
		}
		if !bytes.Equal(cmds[0].payload, big) {
			t.Error("Extended payload corrupted in roundtrip")
		}
	})

	t.Run("invalid total length", func(t *testing.T) {
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], 2)
		if _, err := readMessage(bytes.NewReader(raw[:])); err == nil {
			t.Error("Expected error for total length below header size")
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		msg := encodeMessage(command{id: cmdClose})
		if _, err := readMessage(bytes.NewReader(msg[:len(msg)-1])); err == nil {
			t.Error("Expected error for truncated message")
		}
	})

	t.Run("command length beyond body", func(t *testing.T) {
		if _, _, err := decodeCommand([]byte{0x30, cmdClose}); err == nil {
			t.Error("Expected error for command length past end of body")
		}
	})
}

func TestPayloadReader(t *testing.T) {
	t.Run("typed values", func(t *testing.T) {
		var w payloadWriter
		w.writeUByte(0x42)
		w.writeInt32(-7)
		w.writeDouble(13.9)
		w.writeString("west_approach")

		p := &payloadReader{buf: w.bytes()}
		if b, err := p.ubyte(); err != nil || b != 0x42 {
			t.Errorf("ubyte: got %v, %v", b, err)
		}
		if n, err := p.int32(); err != nil || n != -7 {
			t.Errorf("int32: got %v, %v", n, err)
		}
		if d, err := p.double(); err != nil || d != 13.9 {
			t.Errorf("double: got %v, %v", d, err)
		}
		if s, err := p.string(); err != nil || s != "west_approach" {
			t.Errorf("string: got %q, %v", s, err)
		}
		if p.remaining() != 0 {
			t.Errorf("Expected empty reader, %d bytes left", p.remaining())
		}
	})

	t.Run("underrun", func(t *testing.T) {
		p := &payloadReader{buf: []byte{0, 0}}
		if _, err := p.int32(); err == nil {
			t.Error("Expected underrun error")
		}
	})

	t.Run("negative string length", func(t *testing.T) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], 0xFFFFFFFF)
		p := &payloadReader{buf: b[:]}
		if _, err := p.string(); err == nil {
			t.Error("Expected error for negative string length")
		}
	})
}

func TestVarResponse(t *testing.T) {
	buildResponse := func(variable byte, objectID string, valType byte, value func(*payloadWriter)) []byte {
		var w payloadWriter
		w.writeUByte(variable)
		w.writeString(objectID)
		w.writeUByte(valType)
		value(&w)
		return w.bytes()
	}

	t.Run("double value", func(t *testing.T) {
		payload := buildResponse(varSpeed, "veh0", typeDouble, func(w *payloadWriter) {
			w.writeDouble(12.5)
		})
		resp, err := decodeVarResponse(payload)
		if err != nil {
			t.Fatalf("decodeVarResponse failed: %v", err)
		}
		if resp.variable != varSpeed || resp.objectID != "veh0" {
			t.Errorf("Unexpected header: 0x%02x %q", resp.variable, resp.objectID)
		}
		v, err := resp.asDouble()
		if err != nil || v != 12.5 {
			t.Errorf("Expected 12.5, got %v, %v", v, err)
		}
	})

	t.Run("integer value", func(t *testing.T) {
		payload := buildResponse(varTLPhase, "tl0", typeInteger, func(w *payloadWriter) {
			w.writeInt32(3)
		})
		resp, err := decodeVarResponse(payload)
		if err != nil {
			t.Fatalf("decodeVarResponse failed: %v", err)
		}
		if n, err := resp.asInt(); err != nil || n != 3 {
			t.Errorf("Expected 3, got %v, %v", n, err)
		}
	})

	t.Run("string list value", func(t *testing.T) {
		payload := buildResponse(varRouteEdges, "veh0", typeStringList, func(w *payloadWriter) {
			w.writeInt32(2)
			w.writeString("west")
			w.writeString("east")
		})
		resp, err := decodeVarResponse(payload)
		if err != nil {
			t.Fatalf("decodeVarResponse failed: %v", err)
		}
		edges, err := resp.asStringList()
		if err != nil || len(edges) != 2 || edges[0] != "west" || edges[1] != "east" {
			t.Errorf("Unexpected edges: %v, %v", edges, err)
		}
	})

	t.Run("position value", func(t *testing.T) {
		payload := buildResponse(varPosition, "veh0", typePosition2D, func(w *payloadWriter) {
			w.writeDouble(120.5)
			w.writeDouble(-3.25)
		})
		resp, err := decodeVarResponse(payload)
		if err != nil {
			t.Fatalf("decodeVarResponse failed: %v", err)
		}
		x, y, err := resp.asPosition()
		if err != nil || x != 120.5 || y != -3.25 {
			t.Errorf("Unexpected position: (%v, %v), %v", x, y, err)
		}
	})

	t.Run("type mismatch", func(t *testing.T) {
		payload := buildResponse(varSpeed, "veh0", typeString, func(w *payloadWriter) {
			w.writeString("fast")
		})
		resp, err := decodeVarResponse(payload)
		if err != nil {
			t.Fatalf("decodeVarResponse failed: %v", err)
		}
		if _, err := resp.asDouble(); err == nil || !strings.Contains(err.Error(), "expected double") {
			t.Errorf("Expected type mismatch error, got %v", err)
		}
	})

	t.Run("nan survives encoding", func(t *testing.T) {
		payload := buildResponse(varMeanSpeed, "det0", typeDouble, func(w *payloadWriter) {
			w.writeDouble(math.NaN())
		})
		resp, err := decodeVarResponse(payload)
		if err != nil {
			t.Fatalf("decodeVarResponse failed: %v", err)
		}
		v, err := resp.asDouble()
		if err != nil || !math.IsNaN(v) {
			t.Errorf("Expected NaN, got %v, %v", v, err)
		}
	})
}
