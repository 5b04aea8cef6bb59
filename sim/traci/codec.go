package traci

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Command identifiers.
const (
	cmdGetVersion       = 0x00
	cmdSimStep          = 0x02
	cmdClose            = 0x7F
	cmdGetInductionVar  = 0xa0
	cmdGetTLVar         = 0xa2
	cmdGetVehicleVar    = 0xa4
	cmdGetSimVar        = 0xab
	responseOffset      = 0x10 // value responses use request id + offset
)

// Variable identifiers.
const (
	varIDList         = 0x00
	varVehicleCount   = 0x10 // induction loop: last step vehicle number
	varMeanSpeed      = 0x11 // induction loop: last step mean speed
	varOccupancy      = 0x13 // induction loop: last step occupancy
	varTLState        = 0x20 // traffic light: red-yellow-green state string
	varTLPhase        = 0x28 // traffic light: current phase index
	varSpeed          = 0x40
	varPosition       = 0x42
	varAngle          = 0x43
	varLaneID         = 0x51
	varRouteID        = 0x53
	varRouteEdges     = 0x54
	varTime           = 0x66 // simulation: current time in seconds
	varAcceleration   = 0x72
)

// Payload type identifiers.
const (
	typePosition2D = 0x01
	typeUByte      = 0x07
	typeByte       = 0x08
	typeInteger    = 0x09
	typeDouble     = 0x0B
	typeString     = 0x0C
	typeStringList = 0x0E
	typeCompound   = 0x0F
)

// Status result codes.
const (
	statusOK  = 0x00
	statusErr = 0xFF
)

// command is one decoded TraCI command: identifier plus raw payload.
type command struct {
	id      byte
	payload []byte
}

// encodeMessage frames one or more commands into a TraCI message.
func encodeMessage(cmds ...command) []byte {
	var body bytes.Buffer
	for _, c := range cmds {
		total := 2 + len(c.payload) // length byte + id byte + payload
		if total <= 0xFF {
			body.WriteByte(byte(total))
		} else {
			// extended length: zero marker, then int32 including the 6 header bytes
			body.WriteByte(0)
			var ext [4]byte
			binary.BigEndian.PutUint32(ext[:], uint32(total+4))
			body.Write(ext[:])
		}
		body.WriteByte(c.id)
		body.Write(c.payload)
	}

	out := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(out[:4], uint32(4+body.Len()))
	copy(out[4:], body.Bytes())
	return out
}

// readMessage reads one framed TraCI message and returns its body (the bytes
// after the 32-bit total length).
func readMessage(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < 4 {
		return nil, fmt.Errorf("traci: invalid message length %d", total)
	}
	body := make([]byte, total-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// decodeCommand decodes the first command in body and returns the remainder.
func decodeCommand(body []byte) (command, []byte, error) {
	if len(body) == 0 {
		return command{}, nil, fmt.Errorf("traci: empty command")
	}
	clen := int(body[0])
	hdr := 2
	end := clen
	if clen == 0 {
		if len(body) < 6 {
			return command{}, nil, fmt.Errorf("traci: truncated extended command header")
		}
		end = int(binary.BigEndian.Uint32(body[1:5]))
		hdr = 6
	}
	if end < hdr || end > len(body) {
		return command{}, nil, fmt.Errorf("traci: invalid command length %d", end)
	}
	return command{id: body[hdr-1], payload: body[hdr:end]}, body[end:], nil
}

func decodeCommands(body []byte) ([]command, error) {
	var cmds []command
	for len(body) > 0 {
		cm, rest, err := decodeCommand(body)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cm)
		body = rest
	}
	return cmds, nil
}

// payloadReader decodes typed values from a command payload.
type payloadReader struct {
	buf []byte
}

func (p *payloadReader) remaining() int { return len(p.buf) }

func (p *payloadReader) take(n int) ([]byte, error) {
	if len(p.buf) < n {
		return nil, fmt.Errorf("traci: payload underrun, need %d bytes, have %d", n, len(p.buf))
	}
	out := p.buf[:n]
	p.buf = p.buf[n:]
	return out, nil
}

func (p *payloadReader) ubyte() (byte, error) {
	b, err := p.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *payloadReader) int32() (int32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (p *payloadReader) double() (float64, error) {
	b, err := p.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (p *payloadReader) string() (string, error) {
	n, err := p.int32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("traci: negative string length %d", n)
	}
	b, err := p.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *payloadReader) stringList() ([]string, error) {
	n, err := p.int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("traci: negative list length %d", n)
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, err := p.string()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// payloadWriter encodes typed values into a command payload.
type payloadWriter struct {
	buf bytes.Buffer
}

func (p *payloadWriter) bytes() []byte { return p.buf.Bytes() }

func (p *payloadWriter) writeUByte(v byte) { p.buf.WriteByte(v) }

func (p *payloadWriter) writeInt32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	p.buf.Write(b[:])
}

func (p *payloadWriter) writeDouble(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	p.buf.Write(b[:])
}

func (p *payloadWriter) writeString(s string) {
	p.writeInt32(int32(len(s)))
	p.buf.WriteString(s)
}

// getVarPayload builds the payload of a variable retrieval command.
func getVarPayload(variable byte, objectID string) []byte {
	var w payloadWriter
	w.writeUByte(variable)
	w.writeString(objectID)
	return w.bytes()
}

// varResponse is a decoded variable retrieval response.
type varResponse struct {
	variable byte
	objectID string
	valType  byte
	value    *payloadReader // positioned at the value bytes
}

// decodeVarResponse parses the payload of a value response command.
func decodeVarResponse(payload []byte) (*varResponse, error) {
	p := &payloadReader{buf: payload}
	variable, err := p.ubyte()
	if err != nil {
		return nil, err
	}
	objectID, err := p.string()
	if err != nil {
		return nil, err
	}
	valType, err := p.ubyte()
	if err != nil {
		return nil, err
	}
	return &varResponse{variable: variable, objectID: objectID, valType: valType, value: p}, nil
}

func (v *varResponse) asDouble() (float64, error) {
	if v.valType != typeDouble {
		return 0, fmt.Errorf("traci: variable 0x%02x: expected double, got type 0x%02x", v.variable, v.valType)
	}
	return v.value.double()
}

func (v *varResponse) asInt() (int, error) {
	if v.valType != typeInteger {
		return 0, fmt.Errorf("traci: variable 0x%02x: expected integer, got type 0x%02x", v.variable, v.valType)
	}
	n, err := v.value.int32()
	return int(n), err
}

func (v *varResponse) asString() (string, error) {
	if v.valType != typeString {
		return "", fmt.Errorf("traci: variable 0x%02x: expected string, got type 0x%02x", v.variable, v.valType)
	}
	return v.value.string()
}

func (v *varResponse) asStringList() ([]string, error) {
	if v.valType != typeStringList {
		return nil, fmt.Errorf("traci: variable 0x%02x: expected string list, got type 0x%02x", v.variable, v.valType)
	}
	return v.value.stringList()
}

func (v *varResponse) asPosition() (x, y float64, err error) {
	if v.valType != typePosition2D {
		return 0, 0, fmt.Errorf("traci: variable 0x%02x: expected 2D position, got type 0x%02x", v.variable, v.valType)
	}
	if x, err = v.value.double(); err != nil {
		return 0, 0, err
	}
	y, err = v.value.double()
	return x, y, err
}
