// Package mcp exposes the simulation bridge as Model Context Protocol tools.
// The client is a thin proxy: every tool call is translated into a request
// against the REST API, so MCP agents and HTTP clients always observe the
// same session state.
package mcp
