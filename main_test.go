package main

import (
	"context"
	"testing"

	"github.com/openmobility/sumo-mcp/config"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName == "" {
		t.Error("AppName should not be empty")
	}

	expectedVersion := "1.0.0"
	if Version != expectedVersion {
		t.Errorf("Expected version %s, got %s", expectedVersion, Version)
	}

	expectedAppName := "SUMO Simulation Bridge"
	if AppName != expectedAppName {
		t.Errorf("Expected app name %s, got %s", expectedAppName, AppName)
	}
}

func TestInitializeServices(t *testing.T) {
	cfg := config.Default()
	cfg.ScenarioDir = t.TempDir() // empty directory falls back to the built-in scenario

	bridge, err := initializeServices(cfg)
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	if bridge == nil {
		t.Fatal("Expected bridge service to be initialized")
	}

	// The built-in fallback scenario must be usable end to end.
	info, err := bridge.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("Failed to create session on fallback scenario: %v", err)
	}
	if info.State != "ready" {
		t.Errorf("Expected ready session, got %s", info.State)
	}
	if err := bridge.CloseSession(context.Background(), info.ID); err != nil {
		t.Errorf("Failed to close session: %v", err)
	}
}

func TestInitializeServices_InvalidScenarioDir(t *testing.T) {
	cfg := config.Default()
	cfg.ScenarioDir = "/non/existent/path"

	_, err := initializeServices(cfg)
	if err == nil {
		t.Error("Expected error for non-existent scenario directory")
	}
}

func TestFlagDefaults(t *testing.T) {
	if *configFile == "" {
		t.Error("Config file should have a default value")
	}
	if *debug {
		t.Error("Debug should default to false")
	}
	if *ngrokEnabled {
		t.Error("Ngrok should default to disabled")
	}
}

// Note: main(), runHTTPServer(), and runStdioMCP() start servers and block, so
// they are exercised by running the binary rather than unit tests.
