package storyline

import (
	"testing"
	"time"

	"github.com/stellarlinkco/lifethreads/internal/config"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.Timezone = "UTC"
	cfg.Engine.CooldownHours = 12
	cfg.Engine.ExclusivityScope = "category"

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if opts.Cooldown != 12*time.Hour {
		t.Errorf("Cooldown = %v", opts.Cooldown)
	}
	if opts.Scope != ScopeCategory {
		t.Errorf("Scope = %s", opts.Scope)
	}
	if opts.SurfaceWindow != 7*24*time.Hour || opts.DuplicateWindow != 7*24*time.Hour {
		t.Errorf("windows = %v / %v", opts.SurfaceWindow, opts.DuplicateWindow)
	}
	if opts.Persona != "Kayley" || opts.ContextLimit != 5 || opts.MaxCatchUpDays != 30 {
		t.Errorf("opts = %+v", opts)
	}
}

func TestOptionsFromConfig_BadTimezone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.Timezone = "Mars/Olympus_Mons"
	if _, err := OptionsFromConfig(cfg); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestNewEngine_RequiresStore(t *testing.T) {
	if _, err := NewEngine(nil, nil, nil, Options{}); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestNewEngine_RejectsInvalidRules(t *testing.T) {
	s := newTestStore(t, nil)
	rules := DefaultRules()
	rules.Transitions[0].MaxDays = 0
	if _, err := NewEngine(s, nil, nil, Options{Rules: rules}); err == nil {
		t.Fatal("expected invalid rules error")
	}
}

func TestNewEngine_ZeroCooldownDisablesGate(t *testing.T) {
	clock := newTestClock(day0)
	s := newTestStore(t, clock)
	e, err := NewEngine(s, nil, nil, Options{Clock: clock.Now, Scope: ScopeCategory})
	if err != nil {
		t.Fatal(err)
	}
	if e.opts.Cooldown != 0 {
		t.Errorf("Cooldown = %v, want 0", e.opts.Cooldown)
	}
}
