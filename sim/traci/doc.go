// Package traci implements the subset of SUMO's TraCI control protocol the
// bridge needs: version handshake, simulation stepping, variable retrieval
// for vehicles, traffic lights, induction loops and the simulation clock,
// and connection shutdown.
//
// TraCI is a length-prefixed binary protocol over TCP. Every message is a
// 32-bit big-endian total length followed by one or more commands; each
// command carries its own length (one byte, or zero plus a 32-bit extended
// length), a command identifier, and a typed payload. The server answers
// each command with a status result and, for retrieval commands, a value
// response whose identifier is the request identifier plus 0x10.
//
// The client can either connect to an already running SUMO listening with
// --remote-port, or launch the process itself when the scenario sets
// auto_start.
package traci
