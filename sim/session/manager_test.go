package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/local"
)

func testScenario() *engine.ScenarioConfig {
	return &engine.ScenarioConfig{
		Name:       "test",
		Engine:     engine.ModeLocal,
		StepLength: 1.0,
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

func localFactory(cfg *engine.ScenarioConfig) (engine.Engine, error) {
	return local.NewEngine(cfg)
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a ready session", func(t *testing.T) {
		m := NewManager(localFactory, 4, time.Second)
		sess, err := m.Create(ctx, testScenario())
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		if sess.ID == "" {
			t.Error("Expected a generated session ID")
		}
		if sess.Handle == nil {
			t.Fatal("Expected a simulation handle")
		}
		if m.Count() != 1 {
			t.Errorf("Expected 1 session, got %d", m.Count())
		}
	})

	t.Run("session IDs are unique", func(t *testing.T) {
		m := NewManager(localFactory, 4, time.Second)
		a, _ := m.Create(ctx, testScenario())
		b, _ := m.Create(ctx, testScenario())
		if a.ID == b.ID {
			t.Errorf("Expected unique IDs, both %s", a.ID)
		}
	})

	t.Run("factory error leaves no session", func(t *testing.T) {
		failing := func(cfg *engine.ScenarioConfig) (engine.Engine, error) {
			return nil, errors.New("no engine")
		}
		m := NewManager(failing, 4, time.Second)
		if _, err := m.Create(ctx, testScenario()); err == nil {
			t.Fatal("Expected factory error")
		}
		if m.Count() != 0 {
			t.Errorf("Expected no sessions after failure, got %d", m.Count())
		}
	})

	t.Run("capacity limit", func(t *testing.T) {
		m := NewManager(localFactory, 2, time.Second)
		m.Create(ctx, testScenario())
		m.Create(ctx, testScenario())

		_, err := m.Create(ctx, testScenario())
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Errorf("Expected ErrCapacityExceeded, got %v", err)
		}
	})

	t.Run("closing frees capacity", func(t *testing.T) {
		m := NewManager(localFactory, 1, time.Second)
		sess, _ := m.Create(ctx, testScenario())
		if err := m.Close(sess.ID); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if _, err := m.Create(ctx, testScenario()); err != nil {
			t.Errorf("Expected capacity freed, got %v", err)
		}
	})

	t.Run("concurrent creates respect the limit", func(t *testing.T) {
		m := NewManager(localFactory, 4, time.Second)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Create(ctx, testScenario())
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var created, rejected int
		for err := range errs {
			if err == nil {
				created++
			} else if errors.Is(err, ErrCapacityExceeded) {
				rejected++
			} else {
				t.Errorf("Unexpected error: %v", err)
			}
		}
		if created != 4 || rejected != 4 {
			t.Errorf("Expected 4 created and 4 rejected, got %d and %d", created, rejected)
		}
	})
}

func TestManager_Get(t *testing.T) {
	ctx := context.Background()
	m := NewManager(localFactory, 4, time.Second)
	created, _ := m.Create(ctx, testScenario())

	t.Run("get existing session", func(t *testing.T) {
		sess, err := m.Get(created.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if sess.ID != created.ID {
			t.Errorf("Expected session %s, got %s", created.ID, sess.ID)
		}
	})

	t.Run("get unknown session", func(t *testing.T) {
		_, err := m.Get("nope")
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("get refreshes activity", func(t *testing.T) {
		first, err := m.Get(created.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		second, err := m.Get(created.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !second.LastAccessedAt.After(first.LastAccessedAt) {
			t.Error("Expected LastAccessedAt to advance")
		}
	})

	t.Run("get returns a copy", func(t *testing.T) {
		sess, _ := m.Get(created.ID)
		sess.LastAccessedAt = time.Time{}

		fresh, _ := m.Get(created.ID)
		if fresh.LastAccessedAt.IsZero() {
			t.Error("Expected manager record to be unaffected by caller mutation")
		}
	})

	t.Run("concurrent gets do not race", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.Get(created.ID); err != nil {
					t.Errorf("Get failed: %v", err)
				}
			}()
		}
		wg.Wait()
	})
}

func TestManager_Close(t *testing.T) {
	ctx := context.Background()
	m := NewManager(localFactory, 4, time.Second)
	sess, _ := m.Create(ctx, testScenario())

	t.Run("close releases the session", func(t *testing.T) {
		if err := m.Close(sess.ID); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if _, err := m.Get(sess.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound after close, got %v", err)
		}
	})

	t.Run("double close", func(t *testing.T) {
		if err := m.Close(sess.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestManager_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	m := NewManager(localFactory, 4, time.Second)

	idle, _ := m.Create(ctx, testScenario())
	active, _ := m.Create(ctx, testScenario())

	// Backdate the idle session's activity clock.
	m.mu.Lock()
	m.sessions[idle.ID].LastAccessedAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	removed := m.CleanupExpired(10 * time.Minute)
	if removed != 1 {
		t.Fatalf("Expected 1 expired session, got %d", removed)
	}

	t.Run("expired session is distinguishable from unknown", func(t *testing.T) {
		if _, err := m.Get(idle.ID); !errors.Is(err, ErrSessionExpired) {
			t.Errorf("Expected ErrSessionExpired, got %v", err)
		}
		if err := m.Close(idle.ID); !errors.Is(err, ErrSessionExpired) {
			t.Errorf("Expected ErrSessionExpired from close, got %v", err)
		}
		if _, err := m.Get("never-existed"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("active session survives", func(t *testing.T) {
		if _, err := m.Get(active.ID); err != nil {
			t.Errorf("Expected active session to survive, got %v", err)
		}
		if m.Count() != 1 {
			t.Errorf("Expected 1 remaining session, got %d", m.Count())
		}
	})
}
